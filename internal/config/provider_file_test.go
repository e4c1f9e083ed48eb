package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSecretProviderReadsFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database_url")
	if err := os.WriteFile(path, []byte("postgres://secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewFileSecretProvider()
	got, err := p.GetParametersBatch(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if got[path] != "postgres://secret" {
		t.Errorf("value = %q, want trailing newline stripped", got[path])
	}
}

func TestFileSecretProviderOmitsUnreadable(t *testing.T) {
	p := NewFileSecretProvider()

	got, err := p.GetParametersBatch(context.Background(), []string{"/nonexistent/secret"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unreadable paths must be omitted, got %v", got)
	}
}

func TestFileSecretProviderInjectedReader(t *testing.T) {
	p := &FileSecretProvider{readFile: func(name string) ([]byte, error) {
		if name == "/run/secrets/token" {
			return []byte("tok-123\r\n"), nil
		}
		return nil, errors.New("no such file")
	}}

	got, err := p.GetParametersBatch(context.Background(), []string{"/run/secrets/token", "/run/secrets/other"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if got["/run/secrets/token"] != "tok-123" {
		t.Errorf("value = %q, want CRLF stripped", got["/run/secrets/token"])
	}
	if _, ok := got["/run/secrets/other"]; ok {
		t.Error("failing path should be omitted")
	}
}

func TestEnvVarProviderResolvesSetKeys(t *testing.T) {
	t.Setenv("FINPULSE_TEST_SECRET", "value-1")

	p := NewEnvVarProvider()
	got, err := p.GetParametersBatch(context.Background(), []string{"FINPULSE_TEST_SECRET", "FINPULSE_TEST_MISSING"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if got["FINPULSE_TEST_SECRET"] != "value-1" {
		t.Errorf("resolved value = %q, want value-1", got["FINPULSE_TEST_SECRET"])
	}
	if _, ok := got["FINPULSE_TEST_MISSING"]; ok {
		t.Error("missing keys must be omitted")
	}
}
