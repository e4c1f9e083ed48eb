package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
)

// EnvFile accumulates configuration values during a bootstrap session and
// writes them out as a .env file the engine loads at startup.
//
// The file is read once up front so re-running bootstrap against an existing
// deployment prompts per key instead of silently clobbering it. Values are
// held in memory until Write; an aborted session leaves the original file
// untouched.
type EnvFile struct {
	// Path is the target .env file location.
	Path string

	values map[string]string
}

// NewEnvFile creates an EnvFile manager for the given path. Call Load before
// first use.
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{
		Path:   path,
		values: make(map[string]string),
	}
}

// Load reads the existing file into memory. A missing file is not an error;
// it just means a fresh bootstrap.
func (f *EnvFile) Load() error {
	if _, err := os.Stat(f.Path); os.IsNotExist(err) {
		return nil
	}

	values, err := godotenv.Read(f.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.Path, err)
	}
	f.values = values
	return nil
}

// Has reports whether a non-empty value already exists for the key.
func (f *EnvFile) Has(key string) bool {
	return f.values[key] != ""
}

// Set stores a value for the key. Nothing hits disk until Write.
func (f *EnvFile) Set(key, value string) {
	f.values[key] = value
}

// Keys returns all stored keys in sorted order.
func (f *EnvFile) Keys() []string {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write serializes the accumulated values and writes the file with owner-only
// permissions, since it holds credentials.
func (f *EnvFile) Write() error {
	content, err := godotenv.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("serializing env values: %w", err)
	}

	if err := os.WriteFile(f.Path, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", f.Path, err)
	}
	return nil
}
