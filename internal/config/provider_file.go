package config

import (
	"context"
	"os"
	"strings"
)

// FileSecretProvider implements SecretProvider by reading secret values from
// files on disk. Container orchestrators mount secrets as files (Docker
// secrets under /run/secrets, Kubernetes secret volumes); the loader points
// at them via *_FILE environment variables and resolves the contents here.
type FileSecretProvider struct {
	// readFile is injectable for testing; defaults to os.ReadFile.
	readFile func(name string) ([]byte, error)
}

// NewFileSecretProvider creates a new FileSecretProvider.
func NewFileSecretProvider() *FileSecretProvider {
	return &FileSecretProvider{readFile: os.ReadFile}
}

// GetParametersBatch reads each key as a file path and returns the trimmed
// file contents. Unreadable paths are silently omitted so the loader can
// report exactly which bindings stayed unresolved. A trailing newline is
// stripped because most secret-writing tools append one.
func (p *FileSecretProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	read := p.readFile
	if read == nil {
		read = os.ReadFile
	}

	result := make(map[string]string, len(keys))
	for _, key := range keys {
		data, err := read(key)
		if err != nil {
			continue
		}
		result[key] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
