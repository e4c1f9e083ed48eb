package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"
)

// newTestRunner builds a runner with scripted stdin, captured stderr, and an
// env file in a temp dir. The inventory is injected per test.
func newTestRunner(t *testing.T, stdin string, inventory []BootstrapStep) (*BootstrapRunner, *bytes.Buffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	stderr := &bytes.Buffer{}
	r := &BootstrapRunner{
		EnvFile:           NewEnvFile(path),
		Validator:         NewValidatorWithDeps(&mockHTTPClient{}, &mockDBConnector{}),
		Stdin:             strings.NewReader(stdin),
		Stderr:            stderr,
		Environment:       "dev",
		inventoryOverride: inventory,
	}
	return r, stderr, path
}

// promptStep builds a minimal prompted step with no validation.
func promptStep(label, key string) BootstrapStep {
	return BootstrapStep{
		HumanLabel: label,
		EnvKey:     key,
		Source:     SourcePrompt,
		Prompt:     "Enter the value:",
		Phase:      "Test",
	}
}

func readEnv(t *testing.T, path string) map[string]string {
	t.Helper()
	values, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return values
}

func TestRun_WritesAllSteps(t *testing.T) {
	inventory := []BootstrapStep{
		{
			HumanLabel: "Environment",
			EnvKey:     "APP_ENV",
			Source:     SourceFixed,
			FixedValue: "dev",
			Phase:      "Core Settings",
		},
		promptStep("Public API URL", "API_EXTERNAL_URL"),
	}
	r, stderr, path := newTestRunner(t, "https://api.example.com\n", inventory)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	values := readEnv(t, path)
	if values["APP_ENV"] != "dev" {
		t.Errorf("APP_ENV = %q", values["APP_ENV"])
	}
	if values["API_EXTERNAL_URL"] != "https://api.example.com" {
		t.Errorf("API_EXTERNAL_URL = %q", values["API_EXTERNAL_URL"])
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	if !strings.Contains(stderr.String(), path) {
		t.Errorf("summary should name the output path")
	}
}

func TestRun_ExistingValueSkipKeepsOld(t *testing.T) {
	inventory := []BootstrapStep{promptStep("Database URL", "DATABASE_URL")}
	r, _, path := newTestRunner(t, "s\n", inventory)

	if err := os.WriteFile(path, []byte("DATABASE_URL=postgres://old\n"), 0o600); err != nil {
		t.Fatalf("seeding env file: %v", err)
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := readEnv(t, path)["DATABASE_URL"]; got != "postgres://old" {
		t.Errorf("DATABASE_URL = %q, want the original value kept", got)
	}
}

func TestRun_ExistingValueOverwrite(t *testing.T) {
	inventory := []BootstrapStep{promptStep("Database URL", "DATABASE_URL")}
	r, _, path := newTestRunner(t, "o\npostgres://new\n", inventory)

	if err := os.WriteFile(path, []byte("DATABASE_URL=postgres://old\n"), 0o600); err != nil {
		t.Fatalf("seeding env file: %v", err)
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := readEnv(t, path)["DATABASE_URL"]; got != "postgres://new" {
		t.Errorf("DATABASE_URL = %q, want the replacement", got)
	}
}

func TestRun_OptionalSkipsOnEmptyInput(t *testing.T) {
	step := promptStep("Webhook Key", "SENDGRID_EVENT_WEBHOOK_KEY")
	step.Optional = true
	r, _, path := newTestRunner(t, "\n", []BootstrapStep{step})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := readEnv(t, path)["SENDGRID_EVENT_WEBHOOK_KEY"]; ok {
		t.Error("skipped optional step should not be written")
	}
}

func TestRun_SkipOptionalFlag(t *testing.T) {
	step := promptStep("Webhook Key", "SENDGRID_EVENT_WEBHOOK_KEY")
	step.Optional = true
	// No stdin at all: the step must never prompt.
	r, stderr, path := newTestRunner(t, "", []BootstrapStep{step})
	r.SkipOptional = true

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := readEnv(t, path)["SENDGRID_EVENT_WEBHOOK_KEY"]; ok {
		t.Error("auto-skipped step should not be written")
	}
	if !strings.Contains(stderr.String(), "--skip-optional") {
		t.Errorf("output should mention the flag, got: %s", stderr.String())
	}
}

func TestRun_ValidationRetries(t *testing.T) {
	attempts := 0
	step := promptStep("Public API URL", "API_EXTERNAL_URL")
	step.ValidateFn = func(_ context.Context, input string) ValidationResult {
		attempts++
		if input == "bad" {
			return ValidationResult{Valid: false, Message: "rejected"}
		}
		return ValidationResult{Valid: true, Message: "accepted"}
	}
	r, stderr, path := newTestRunner(t, "bad\ngood\n", []BootstrapStep{step})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if attempts != 2 {
		t.Errorf("validator ran %d times, want 2", attempts)
	}
	if got := readEnv(t, path)["API_EXTERNAL_URL"]; got != "good" {
		t.Errorf("API_EXTERNAL_URL = %q", got)
	}
	if !strings.Contains(stderr.String(), "Validation failed: rejected") {
		t.Error("failure message should be shown to the operator")
	}
}

func TestRun_RequiredEmptyThenRetry(t *testing.T) {
	step := promptStep("Database URL", "DATABASE_URL")
	r, _, path := newTestRunner(t, "\nr\npostgres://db\n", []BootstrapStep{step})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := readEnv(t, path)["DATABASE_URL"]; got != "postgres://db" {
		t.Errorf("DATABASE_URL = %q", got)
	}
}

func TestRun_RequiredEmptyThenSkip(t *testing.T) {
	step := promptStep("Database URL", "DATABASE_URL")
	r, _, path := newTestRunner(t, "\ns\n", []BootstrapStep{step})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := readEnv(t, path)["DATABASE_URL"]; ok {
		t.Error("skipped step should not be written")
	}
}

func TestRun_MaxRetriesExceeded(t *testing.T) {
	step := promptStep("Public API URL", "API_EXTERNAL_URL")
	step.ValidateFn = func(context.Context, string) ValidationResult {
		return ValidationResult{Valid: false, Message: "always rejected"}
	}
	r, _, path := newTestRunner(t, "a\nb\nc\nd\ne\n", []BootstrapStep{step})

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "maximum retries") {
		t.Errorf("unexpected error: %v", err)
	}

	// The aborted session must not produce a file.
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("aborted run should not write the env file")
	}
}

func TestRun_AbortLeavesExistingFileUntouched(t *testing.T) {
	inventory := []BootstrapStep{promptStep("Database URL", "DATABASE_URL")}
	// Stdin runs dry mid-step: the session fails.
	r, _, path := newTestRunner(t, "o\n", inventory)

	original := []byte("DATABASE_URL=postgres://old\nAPP_ENV=dev\n")
	if err := os.WriteFile(path, original, 0o600); err != nil {
		t.Fatalf("seeding env file: %v", err)
	}

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected an error when stdin runs dry")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading env file: %v", err)
	}
	if !bytes.Equal(after, original) {
		t.Error("failed session must leave the existing file unchanged")
	}
}

func TestBuildInventory_CoversRequiredEngineConfig(t *testing.T) {
	v := NewValidatorWithDeps(&mockHTTPClient{}, &mockDBConnector{})
	inventory := BuildInventory(v, "staging")

	byKey := make(map[string]BootstrapStep, len(inventory))
	for _, step := range inventory {
		byKey[step.EnvKey] = step
	}

	// Every setting the engine refuses to start without must be collected.
	for _, key := range []string{"APP_ENV", "API_EXTERNAL_URL", "DATABASE_URL", "TELEGRAM_BOT_TOKEN", "SENDGRID_API_KEY"} {
		step, ok := byKey[key]
		if !ok {
			t.Errorf("inventory missing %s", key)
			continue
		}
		if step.Optional {
			t.Errorf("%s must not be optional", key)
		}
	}

	if env := byKey["APP_ENV"]; env.Source != SourceFixed || env.FixedValue != "staging" {
		t.Error("APP_ENV should be fixed to the --env flag value")
	}

	for _, key := range []string{"DATABASE_URL", "TELEGRAM_BOT_TOKEN", "SENDGRID_API_KEY", "SENDGRID_EVENT_WEBHOOK_KEY"} {
		if !byKey[key].IsSecret {
			t.Errorf("%s must be masked during entry", key)
		}
	}
}
