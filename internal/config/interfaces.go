package config

import "context"

// SecretProvider abstracts the retrieval of secrets to support both mounted
// secret files (container orchestrators) and environment variables (local
// development). This interface enables dependency injection for testing and
// environment-specific secret resolution.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values. The keys slice
	// contains provider-specific identifiers (file paths or variable names)
	// to resolve. Returns a map of key -> plaintext value for all
	// successfully resolved parameters; missing keys are omitted.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
