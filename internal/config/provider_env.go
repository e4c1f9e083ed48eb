package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider with plain environment lookups.
// Local development sets secrets directly (usually via the .env file that
// cmd/ops/bootstrap writes), so no file indirection is involved.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch resolves each key through os.LookupEnv. Keys absent
// from the environment are omitted from the result rather than erroring,
// which lets the loader report every unresolved binding in one pass.
// The context is unused; environment reads cannot block.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
