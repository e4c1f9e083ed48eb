package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// InputSource describes how the value for a bootstrap step is obtained.
type InputSource int

const (
	// SourcePrompt means the operator must provide the value interactively.
	SourcePrompt InputSource = iota
	// SourceFixed means the value is a constant decided before the session
	// starts (e.g., the target environment).
	SourceFixed
)

// BootstrapStep defines a single configuration value to be collected during
// the bootstrap process. Each step maps to one key in the generated .env
// file, named exactly as the engine's configuration loader expects it.
type BootstrapStep struct {
	// HumanLabel is the display name shown to the operator.
	// Example: "Database URL", "Telegram Bot Token"
	HumanLabel string

	// EnvKey is the environment variable name written to the .env file.
	// Example: "DATABASE_URL"
	EnvKey string

	// Source determines how the value is obtained.
	Source InputSource

	// FixedValue is used when Source is SourceFixed.
	FixedValue string

	// Prompt is the instructional text shown to the operator when Source
	// is SourcePrompt.
	Prompt string

	// ValidateFn is called to validate user input. Nil means no validation
	// is performed and the value is accepted as-is.
	ValidateFn func(ctx context.Context, input string) ValidationResult

	// IsSecret controls whether the input is masked during entry. When
	// true, the input is read without echoing to the terminal.
	IsSecret bool

	// Optional marks this step as skippable on empty input without
	// confirmation.
	Optional bool

	// Phase groups the step for display purposes.
	Phase string
}

// maxRetries is the maximum number of times the operator can retry entering
// a value before the bootstrap process aborts for that step.
const maxRetries = 5

// errSkipped is a sentinel error returned by promptAndValidate when the
// operator chooses to skip a value. It lets processStep record the step as
// "skipped" without writing anything.
var errSkipped = errors.New("value skipped by operator")

// BuildInventory constructs the ordered list of bootstrap steps covering
// every credential and setting the engine cannot default. The validator is
// injected to enable testing with mock HTTP/DB clients.
func BuildInventory(v *Validator, environment string) []BootstrapStep {
	return []BootstrapStep{
		// -----------------------------------------------------------------
		// Phase 1: Core Settings
		// -----------------------------------------------------------------
		{
			HumanLabel: "Environment",
			EnvKey:     "APP_ENV",
			Source:     SourceFixed,
			FixedValue: environment,
			Phase:      "Core Settings",
		},
		{
			HumanLabel: "Public API URL",
			EnvKey:     "API_EXTERNAL_URL",
			Source:     SourcePrompt,
			Prompt: `1. Decide the public base URL this deployment will serve on.
   2. Notification links (unsubscribe, preferences) are built from it.
   3. Enter it without a trailing slash, e.g. https://api.finpulse.app:`,
			ValidateFn: v.ValidateExternalURL,
			Phase:      "Core Settings",
		},
		// -----------------------------------------------------------------
		// Phase 2: External Accounts
		// -----------------------------------------------------------------
		{
			HumanLabel: "Database URL",
			EnvKey:     "DATABASE_URL",
			Source:     SourcePrompt,
			Prompt: `1. Create a PostgreSQL database for this environment.
   2. Create a dedicated role with DML rights on the finpulse schema.
   3. Paste the full postgres://... connection string here:`,
			ValidateFn: v.ValidateDatabaseURL,
			IsSecret:   true,
			Phase:      "External Accounts",
		},
		{
			HumanLabel: "Telegram Bot Token",
			EnvKey:     "TELEGRAM_BOT_TOKEN",
			Source:     SourcePrompt,
			Prompt: `1. Open a chat with @BotFather on Telegram.
   2. Run /newbot (or /token for an existing bot).
   3. Paste the bot token here:`,
			ValidateFn: v.ValidateTelegramToken,
			IsSecret:   true,
			Phase:      "External Accounts",
		},
		{
			HumanLabel: "SendGrid API Key",
			EnvKey:     "SENDGRID_API_KEY",
			Source:     SourcePrompt,
			Prompt: `1. In the SendGrid dashboard, go to Settings > API Keys.
   2. Create a key with at least the Mail Send permission.
   3. Paste the SG.... key here:`,
			ValidateFn: v.ValidateSendGridKey,
			IsSecret:   true,
			Phase:      "External Accounts",
		},
		{
			HumanLabel: "SendGrid Event Webhook Key",
			EnvKey:     "SENDGRID_EVENT_WEBHOOK_KEY",
			Source:     SourcePrompt,
			Prompt: `1. In the SendGrid dashboard, go to Settings > Mail Settings > Event Webhook.
   2. Point the webhook at <public api url>/v1/webhooks/sendgrid and enable
      Signed Event Webhook.
   3. Paste the base64 verification key here (or leave empty to skip
      signature verification):`,
			ValidateFn: v.ValidateEventWebhookKey,
			IsSecret:   true,
			Optional:   true,
			Phase:      "External Accounts",
		},
		// -----------------------------------------------------------------
		// Phase 3: Email Identity
		// -----------------------------------------------------------------
		{
			HumanLabel: "From Address",
			EnvKey:     "EMAIL_FROM_ADDRESS",
			Source:     SourcePrompt,
			Prompt: `1. Verify a sender identity (or authenticated domain) in SendGrid.
   2. Enter the address notices are sent from (empty keeps the default):`,
			ValidateFn: v.ValidateFromAddress,
			Optional:   true,
			Phase:      "Email Identity",
		},
	}
}

// BootstrapRunner drives the interactive bootstrap session: it walks the
// inventory, prompts, validates, and accumulates values into the env file.
type BootstrapRunner struct {
	EnvFile   *EnvFile
	Validator *Validator
	Stdin     io.Reader
	Stderr    io.Writer

	// Environment is the target deployment environment, threaded into the
	// inventory's fixed APP_ENV step.
	Environment string

	// SkipOptional causes all steps marked Optional to be auto-skipped
	// without prompting. Controlled by the --skip-optional flag.
	SkipOptional bool

	// scanner is the shared line scanner for reading stdin throughout the
	// session. Lazily initialized on first use; a single scanner avoids
	// multiple bufio.Scanner instances consuming ahead of each other.
	scanner *bufio.Scanner

	// inventoryOverride allows tests to inject a modified inventory.
	// If nil, BuildInventory is used.
	inventoryOverride []BootstrapStep
}

// NewBootstrapRunner creates a BootstrapRunner with production dependencies.
func NewBootstrapRunner(environment, outputPath string) *BootstrapRunner {
	return &BootstrapRunner{
		EnvFile:     NewEnvFile(outputPath),
		Validator:   NewValidator(),
		Stdin:       os.Stdin,
		Stderr:      os.Stderr,
		Environment: environment,
	}
}

// Run executes the full bootstrap protocol: load any existing env file,
// iterate through the ordered inventory prompting and validating, then write
// the file once every step has been resolved.
//
// Nothing is written until the whole session succeeds, so an aborted run
// leaves an existing file exactly as it was.
func (r *BootstrapRunner) Run(ctx context.Context) error {
	if err := r.EnvFile.Load(); err != nil {
		return fmt.Errorf("loading existing env file: %w", err)
	}

	inventory := r.inventoryOverride
	if inventory == nil {
		inventory = BuildInventory(r.Validator, r.Environment)
	}

	var currentPhase string
	var results []stepResult

	for i, step := range inventory {
		if step.Phase != currentPhase {
			currentPhase = step.Phase
			r.printPhaseHeader(currentPhase)
		}

		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		result, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, result)
	}

	if err := r.EnvFile.Write(); err != nil {
		return fmt.Errorf("writing env file: %w", err)
	}

	r.printSummary(results)
	return nil
}

// stepResult records the outcome of processing a single bootstrap step.
type stepResult struct {
	Label  string
	Action string // "written", "skipped", "overwritten"
	Key    string
}

// processStep handles a single BootstrapStep: checks for an existing value,
// obtains input, validates, and stores the result in the env file.
func (r *BootstrapRunner) processStep(ctx context.Context, step BootstrapStep) (stepResult, error) {
	result := stepResult{
		Label: step.HumanLabel,
		Key:   step.EnvKey,
	}

	// Auto-skip optional steps when --skip-optional is set.
	if step.Optional && r.SkipOptional {
		fmt.Fprintf(r.Stderr, "  Skipped (--skip-optional)\n")
		result.Action = "skipped"
		return result, nil
	}

	// Re-running against an existing file prompts per key.
	exists := r.EnvFile.Has(step.EnvKey)
	if exists {
		fmt.Fprintf(r.Stderr, "  Value already set: %s\n", step.EnvKey)

		choice, err := r.promptSkipOrOverwrite()
		if err != nil {
			return result, fmt.Errorf("reading skip/overwrite choice: %w", err)
		}

		if choice == "skip" {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
		// choice == "overwrite": continue to obtain a new value.
	}

	var value string
	var err error
	switch step.Source {
	case SourcePrompt:
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
		if err != nil {
			return result, err
		}

	case SourceFixed:
		value = step.FixedValue
		fmt.Fprintf(r.Stderr, "  Using fixed value: %s\n", value)
	}

	r.EnvFile.Set(step.EnvKey, value)

	if exists {
		result.Action = "overwritten"
	} else {
		result.Action = "written"
	}

	fmt.Fprintf(r.Stderr, "  Staged: %s\n", step.EnvKey)
	return result, nil
}

// promptAndValidate prompts the operator for input, validates it, and retries
// up to maxRetries times on validation failure. Secret inputs are masked.
func (r *BootstrapRunner) promptAndValidate(ctx context.Context, step BootstrapStep) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var input string
		var err error

		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			// Optional steps skip immediately on empty input.
			if step.Optional {
				return "", errSkipped
			}
			choice, choiceErr := r.promptSkipOrRetry()
			if choiceErr != nil {
				return "", fmt.Errorf("reading skip/retry choice for %s: %w", step.HumanLabel, choiceErr)
			}
			if choice == "skip" {
				return "", errSkipped
			}
			// choice == "retry": re-prompt without consuming an attempt.
			attempt--
			continue
		}

		// Never echo secrets; acknowledge receipt with length only.
		if step.IsSecret {
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, input)
			if !vr.Valid {
				fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
				if attempt < maxRetries {
					fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
				}
				continue
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}

		return input, nil
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

// getScanner returns the shared line scanner, initializing it on first use.
func (r *BootstrapRunner) getScanner() *bufio.Scanner {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	return r.scanner
}

// scanLine reads a single line from the shared scanner. Returns io.EOF when
// input is exhausted.
func (r *BootstrapRunner) scanLine() (string, error) {
	s := r.getScanner()
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.Text(), nil
}

// readInput reads a line of plaintext input from stdin.
func (r *BootstrapRunner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput reads input without echoing it to the terminal. If stdin
// is not a terminal (piped input, tests), it falls back to regular line
// reading.
func (r *BootstrapRunner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(password), nil
	}

	return r.scanLine()
}

// promptSkipOrOverwrite asks the operator whether to keep or replace an
// existing value. Returns "skip" or "overwrite".
func (r *BootstrapRunner) promptSkipOrOverwrite() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  [S]kip or [O]verwrite? ")

		line, err := r.scanLine()
		if err != nil {
			return "", err
		}

		choice := strings.TrimSpace(strings.ToLower(line))
		switch choice {
		case "s", "skip":
			return "skip", nil
		case "o", "overwrite":
			return "overwrite", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'O' to overwrite.\n")
		}
	}
}

// promptSkipOrRetry asks the operator whether to skip the current value or
// retry entering it, invoked on empty input for a required step. Returns
// "skip" or "retry".
func (r *BootstrapRunner) promptSkipOrRetry() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  No input received. [S]kip this value or [R]etry? ")

		line, err := r.scanLine()
		if err != nil {
			return "", err
		}

		choice := strings.TrimSpace(strings.ToLower(line))
		switch choice {
		case "s", "skip":
			return "skip", nil
		case "r", "retry":
			return "retry", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'R' to retry.\n")
		}
	}
}

// printPhaseHeader displays a section header for a group of related steps.
func (r *BootstrapRunner) printPhaseHeader(phase string) {
	fmt.Fprintf(r.Stderr, "\n=== %s ===\n", phase)
}

// printSummary lists the outcome of every step and where the file landed.
func (r *BootstrapRunner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Stderr, "\n=== Summary ===\n\n")
	for _, res := range results {
		fmt.Fprintf(r.Stderr, "  %-12s %s (%s)\n", res.Action, res.Label, res.Key)
	}
	fmt.Fprintf(r.Stderr, "\nWrote %s. Load it with the engine or `source` it for local runs.\n", r.EnvFile.Path)
}
