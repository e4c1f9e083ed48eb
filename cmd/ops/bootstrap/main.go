// Package main implements the bootstrap CLI tool for FinPulse deployments.
//
// This tool guides a human operator through first-time setup: creating the
// external accounts the engine depends on (PostgreSQL, a Telegram bot, a
// SendGrid account), collecting and actively validating their credentials,
// and writing a complete .env file the engine's configuration loader
// consumes directly.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=local --output=.env.local
//	go run ./cmd/ops/bootstrap --env=prod --skip-optional
//
// The tool performs the following:
//  1. Parses --env, --output, and --skip-optional flags.
//  2. If --env=prod, requires explicit interactive confirmation ("yes").
//  3. Walks through the bootstrap inventory: prompting for each credential,
//     probing the providers to confirm it works, and staging it in memory.
//  4. Writes the .env file (0600) once every step has been resolved, so an
//     aborted session never leaves a half-written file.
//
// Re-running against an existing .env prompts per key to keep or replace
// the stored value.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Supported environments for the bootstrap tool. These mirror the values the
// engine's configuration accepts for APP_ENV.
var validEnvironments = map[string]bool{
	"local":   true,
	"dev":     true,
	"staging": true,
	"prod":    true,
}

func main() {
	envFlag := flag.String("env", "", "Target environment (local/dev/staging/prod) [required]")
	outputFlag := flag.String("output", ".env", "Path for the generated .env file")
	skipOptionalFlag := flag.Bool("skip-optional", false, "Auto-skip optional values (webhook key, from address)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "FinPulse Bootstrap Tool\n\n")
		fmt.Fprintf(os.Stderr, "Guides the setup of external accounts and generates the .env file\n")
		fmt.Fprintf(os.Stderr, "required before the engine's first start.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bootstrap --env=dev [--output=PATH] [--skip-optional]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *envFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --env is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: invalid environment %q (must be local, dev, staging, or prod)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := NewBootstrapRunner(*envFlag, *outputFlag)
	runner.SkipOptional = *skipOptionalFlag

	// Production runs get an explicit confirmation gate.
	if *envFlag == "prod" {
		if !confirmProduction(runner) {
			fmt.Fprintf(os.Stderr, "Aborted.\n")
			os.Exit(1)
		}
	}

	fmt.Fprintf(os.Stderr, "\nFinPulse Bootstrap\n")
	fmt.Fprintf(os.Stderr, "  Environment: %s\n", *envFlag)
	fmt.Fprintf(os.Stderr, "  Output:      %s\n", *outputFlag)

	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

// confirmProduction requires the operator to type "yes" before a prod
// session proceeds.
func confirmProduction(r *BootstrapRunner) bool {
	fmt.Fprintf(r.Stderr, "You are bootstrapping PRODUCTION. Type 'yes' to continue: ")
	line, err := r.readInput("")
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(line)) == "yes"
}
