package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"finpulse/internal/notifications/email"
)

// ValidationResult holds the outcome of a validation check. It provides
// both a boolean pass/fail signal and a human-readable message suitable
// for display in the bootstrap CLI.
type ValidationResult struct {
	// Valid is true if the input passed all validation checks.
	Valid bool

	// Message is a human-readable description of the result. On success it
	// describes what was verified; on failure, why validation failed.
	Message string
}

// HTTPClient is the interface used by validators that make outbound HTTP
// calls. It enables injecting mock transports for testing without real
// network calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector abstracts the database connection logic for testing.
// In production, the real implementation uses pgx.Connect. Tests inject
// a mock that simulates connection success/failure.
type DatabaseConnector interface {
	// Connect attempts to establish a connection to the database at the
	// given DSN, closing it before returning.
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector is the production implementation of DatabaseConnector.
type PgxConnector struct{}

// Connect establishes a connection using pgx and immediately closes it. The
// purpose is to verify that the DSN is reachable and the credentials are
// valid, not to maintain an open connection.
func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator encapsulates the dependencies needed by input validation
// functions.
type Validator struct {
	httpClient HTTPClient
	dbConn     DatabaseConnector
}

// NewValidator creates a Validator with production dependencies: a real
// HTTP client with a 10-second timeout and a real pgx connector.
func NewValidator() *Validator {
	return &Validator{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		dbConn: &PgxConnector{},
	}
}

// NewValidatorWithDeps creates a Validator with injected dependencies
// for testing.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector) *Validator {
	return &Validator{
		httpClient: httpClient,
		dbConn:     dbConn,
	}
}

// validateTimeout is the per-probe timeout for active validation calls.
// This is separate from the HTTP client timeout to serve as an outer bound
// that also covers DNS resolution and the TLS handshake.
const validateTimeout = 15 * time.Second

// ---------------------------------------------------------------------------
// ValidateDatabaseURL
// ---------------------------------------------------------------------------

// ValidateDatabaseURL validates a PostgreSQL connection string.
//
// Validation steps:
//  1. Parse the URL and verify the postgres:// or postgresql:// scheme.
//  2. Attempt an actual connection using pgx to verify the credentials
//     and network reachability.
//
// The connection is immediately closed after verification.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Valid: false, Message: "database URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid URL format: %v", err),
		}
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme),
		}
	}
	if parsed.Host == "" {
		return ValidationResult{Valid: false, Message: "database URL has no host"}
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("connection failed: %v", err),
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname()),
	}
}

// ---------------------------------------------------------------------------
// ValidateTelegramToken
// ---------------------------------------------------------------------------

// telegramTokenRegex validates the format of a Telegram bot token:
// the numeric bot id, a colon, and the secret part.
var telegramTokenRegex = regexp.MustCompile(`^[0-9]{5,}:[A-Za-z0-9_-]{30,}$`)

// ValidateTelegramToken validates a Telegram bot token by:
//  1. Checking the token matches the <bot_id>:<secret> format.
//  2. Calling the Bot API getMe method to verify the token is live.
//
// getMe is the lightest-weight Bot API call: it has no side effects and
// returns the bot's identity, which is echoed back for operator feedback.
func (v *Validator) ValidateTelegramToken(ctx context.Context, token string) ValidationResult {
	token = strings.TrimSpace(token)
	if token == "" {
		return ValidationResult{Valid: false, Message: "Telegram bot token must not be empty"}
	}

	if !telegramTokenRegex.MatchString(token) {
		return ValidationResult{
			Valid:   false,
			Message: "Telegram bot token must match format <bot_id>:<secret> (from @BotFather)",
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	probeURL := "https://api.telegram.org/bot" + token + "/getMe"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Telegram API probe failed: %v", err),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return ValidationResult{
			Valid:   false,
			Message: "Telegram API rejected the token: it is invalid or was revoked",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Telegram API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200)),
		}
	}

	var getMe struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	displayInfo := ""
	if err := json.Unmarshal(body, &getMe); err == nil && getMe.Result.Username != "" {
		displayInfo = fmt.Sprintf(" (bot: @%s)", getMe.Result.Username)
	}

	return ValidationResult{
		Valid:   true,
		Message: "Telegram bot token verified" + displayInfo,
	}
}

// ---------------------------------------------------------------------------
// ValidateSendGridKey
// ---------------------------------------------------------------------------

// sendGridKeyRegex validates the format of a SendGrid API key:
// "SG." followed by two dot-separated base64url segments.
var sendGridKeyRegex = regexp.MustCompile(`^SG\.[A-Za-z0-9_-]{16,}\.[A-Za-z0-9_-]{16,}$`)

// ValidateSendGridKey validates a SendGrid API key by:
//  1. Checking the key matches the SG.<id>.<secret> format.
//  2. Calling GET /v3/scopes to verify the key is functional and carries
//     the mail.send scope the engine needs.
func (v *Validator) ValidateSendGridKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Valid: false, Message: "SendGrid API key must not be empty"}
	}

	if !sendGridKeyRegex.MatchString(key) {
		return ValidationResult{
			Valid:   false,
			Message: "SendGrid API key must match format SG.<key id>.<secret>",
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, "https://api.sendgrid.com/v3/scopes", nil)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "FinPulse-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("SendGrid API probe failed: %v", err),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode == http.StatusUnauthorized {
		return ValidationResult{
			Valid:   false,
			Message: "SendGrid API returned 401 Unauthorized: key is invalid or revoked",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("SendGrid API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200)),
		}
	}

	var scopesResp struct {
		Scopes []string `json:"scopes"`
	}
	if err := json.Unmarshal(body, &scopesResp); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("could not parse SendGrid scopes response: %v", err),
		}
	}
	for _, s := range scopesResp.Scopes {
		if s == "mail.send" {
			return ValidationResult{
				Valid:   true,
				Message: fmt.Sprintf("SendGrid API key verified (%d scopes, mail.send granted)", len(scopesResp.Scopes)),
			}
		}
	}

	return ValidationResult{
		Valid:   false,
		Message: "SendGrid API key is live but lacks the mail.send scope; create a key with Mail Send access",
	}
}

// ---------------------------------------------------------------------------
// ValidateEventWebhookKey
// ---------------------------------------------------------------------------

// ValidateEventWebhookKey validates the public key for SendGrid's signed
// Event Webhook. This is a pure format check -- the key is parsed exactly
// the way the engine parses it at startup, so a value accepted here will be
// accepted there. No network call is made.
func (v *Validator) ValidateEventWebhookKey(_ context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Valid: false, Message: "event webhook key must not be empty"}
	}

	if _, err := email.NewEventVerifier(key); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid event webhook key: %v", err),
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: "event webhook public key parsed (ECDSA P-256)",
	}
}

// ---------------------------------------------------------------------------
// ValidateExternalURL
// ---------------------------------------------------------------------------

// ValidateExternalURL validates the public base URL embedded in notification
// links. Format-only: the deployment this URL points at may not exist yet
// when bootstrap runs.
func (v *Validator) ValidateExternalURL(_ context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Valid: false, Message: "external URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid URL format: %v", err),
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("expected http:// or https:// scheme, got %q", parsed.Scheme),
		}
	}
	if parsed.Host == "" {
		return ValidationResult{Valid: false, Message: "external URL has no host"}
	}
	if strings.HasSuffix(rawURL, "/") {
		return ValidationResult{
			Valid:   false,
			Message: "external URL must not end with a trailing slash",
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("external URL accepted (%s)", parsed.Host),
	}
}

// ---------------------------------------------------------------------------
// ValidateFromAddress
// ---------------------------------------------------------------------------

// ValidateFromAddress validates the sender address for outbound email.
// Format-only; sender identity verification happens on the SendGrid side.
func (v *Validator) ValidateFromAddress(_ context.Context, addr string) ValidationResult {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ValidationResult{Valid: false, Message: "from address must not be empty"}
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid email address: %v", err),
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("from address accepted (%s)", parsed.Address),
	}
}

// truncateBody shortens a response body for inclusion in error messages.
func truncateBody(body []byte, max int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
