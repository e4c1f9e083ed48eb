// loader.go implements the configuration loading lifecycle for the FinPulse
// engine.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _FILE suffix variables.
//  4. Resolve secret files via the SecretProvider and inject the resolved
//     values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// fileParamSuffix is the environment variable suffix used to identify secret
// file pointer variables. For example, DATABASE_URL_FILE points to the file
// holding the DATABASE_URL secret.
const fileParamSuffix = "_FILE"

// envLookup is a function type for looking up environment variables.
// It matches the signature of os.LookupEnv and allows injection for testing.
type envLookup func(key string) (string, bool)

// envSet is a function type for setting environment variables.
// It matches the signature of os.Setenv and allows injection for testing.
type envSet func(key, value string) error

// environ is a function type for listing all environment variables.
// It matches the signature of os.Environ and allows injection for testing.
type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the FinPulse configuration.
//
// It performs the following steps in order:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present (non-fatal if missing).
//  3. Scans environment for _FILE variables.
//  4. Resolves the secret files via the provider and injects resolved
//     values as environment variables.
//  5. Processes envconfig tags to populate the Config struct.
//  6. Populates Config.Build from linker-injected variables.
//  7. Validates the Config struct.
//
// The provider parameter is the SecretProvider used for file resolution.
// When no _FILE variables are present, the provider may be nil.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

// loadConfigWithDeps is the internal implementation of LoadConfig that accepts
// injectable dependencies for testing.
func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent).
	// godotenv.Load() will silently succeed if no .env file exists in the
	// working directory. It does NOT override existing environment variables.
	_ = godotenv.Load()

	// Step 3+4: Scan for _FILE variables and resolve them.
	if err := resolveFileParams(provider, deps); err != nil {
		return nil, err
	}

	// Step 5: Process envconfig tags to populate the Config struct.
	// The empty prefix "" means envconfig will use the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 6: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 7: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// resolveFileParams scans the environment for variables ending in _FILE,
// reads the referenced secret files via the SecretProvider, and injects
// the contents back into the environment so that envconfig can process them.
//
// For example, if DATABASE_URL_FILE=/run/secrets/database_url is set, this
// function will:
//  1. Extract the file path: /run/secrets/database_url
//  2. Derive the target env var name: DATABASE_URL
//  3. Use the provider to read the secret value
//  4. Set DATABASE_URL=<file contents> in the environment
//
// If the target variable is already set in the environment (via direct env
// var or .env file), the file resolution is skipped for that variable. This
// respects the priority chain: OS Environment > Dotenv > Secret Files.
func resolveFileParams(provider SecretProvider, deps loaderDeps) error {
	type fileBinding struct {
		targetEnvVar string // e.g., DATABASE_URL
		path         string // e.g., /run/secrets/database_url
	}

	var bindings []fileBinding
	// pathToTarget maps file path -> target env var for reverse lookup
	// after batch retrieval.
	pathToTarget := make(map[string]string)

	for _, envEntry := range deps.environ() {
		// Each entry is "KEY=VALUE"
		eqIdx := strings.IndexByte(envEntry, '=')
		if eqIdx < 0 {
			continue
		}
		key := envEntry[:eqIdx]

		if !strings.HasSuffix(key, fileParamSuffix) {
			continue
		}

		// Derive the target env var name by stripping the _FILE suffix.
		targetEnvVar := strings.TrimSuffix(key, fileParamSuffix)
		if targetEnvVar == "" {
			continue
		}

		// Skip if the target variable is already set (priority: Env > Files).
		if _, exists := deps.lookupEnv(targetEnvVar); exists {
			continue
		}

		path := envEntry[eqIdx+1:]
		if path == "" {
			continue // Skip empty paths
		}

		bindings = append(bindings, fileBinding{targetEnvVar: targetEnvVar, path: path})
		pathToTarget[path] = targetEnvVar
	}

	// No secret files to resolve.
	if len(bindings) == 0 {
		return nil
	}

	// A provider is required if there are file parameters to resolve.
	if provider == nil {
		targetVars := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targetVars = append(targetVars, b.targetEnvVar)
		}
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required to resolve secret files (need: %s)", strings.Join(targetVars, ", ")),
		}
	}

	paths := make([]string, 0, len(bindings))
	for _, b := range bindings {
		paths = append(paths, b.path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret files", len(paths)),
			Err:     err,
		}
	}

	// Inject resolved values into the environment.
	for path, value := range resolved {
		targetEnvVar, ok := pathToTarget[path]
		if !ok {
			continue
		}
		if err := deps.setEnv(targetEnvVar, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targetEnvVar),
				Err:     err,
			}
		}
	}

	// Check for any paths that were not resolved.
	var missing []string
	for _, b := range bindings {
		if _, ok := resolved[b.path]; !ok {
			missing = append(missing, b.targetEnvVar)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret files not readable for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
