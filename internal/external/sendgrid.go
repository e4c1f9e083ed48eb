package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"finpulse/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
// Overridable in tests via SendGridClientConfig.BaseURL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	BaseURL     string // Override for testing; defaults to sendGridAPIBase
	Logger      *slog.Logger
}

// SendGridClient implements EmailProvider by making direct HTTP calls to the
// SendGrid v3 Mail Send API through BaseClient. This routes all requests
// through the shared resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type SendGridClient struct {
	base        *BaseClient
	apiKey      string
	fromAddress string
	fromName    string
	baseURL     string
	logger      *slog.Logger
}

// NewSendGridClient creates a new SendGridClient with default resilience
// settings. The httpClient timeout should be set by the caller (10s is the
// engine default for provider calls).
func NewSendGridClient(
	httpClient *http.Client,
	cfg SendGridClientConfig,
) *SendGridClient {
	base := NewBaseClient(
		httpClient,
		"sendgrid",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"FinPulse/1.0",
		WithSleepFunc(time.Sleep),
	)

	return newSendGridClient(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewSendGridClientWithBase(
	base *BaseClient,
	cfg SendGridClientConfig,
) *SendGridClient {
	return newSendGridClient(base, cfg)
}

func newSendGridClient(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SendGridClient{
		base:        base,
		apiKey:      cfg.APIKey,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// Send transmits an email using SendGrid's v3 Mail Send API. It maps the
// rendered EmailMessage to the mail/send JSON payload and returns the provider
// message ID (from the X-Message-Id response header) on success.
//
// Error mapping:
//   - 403 Forbidden -> types.ErrCodeDeliveryRejected (recipient suppressed)
//   - 429 Too Many Requests -> handled by BaseClient (retry + ErrCodeUpstreamRateLimit)
//   - 5xx -> handled by BaseClient (retry + ErrCodeUpstreamUnavailable)
//   - Other 4xx -> types.ErrCodeUpstreamEmail
func (s *SendGridClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	payload := s.buildMailPayload(msg)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal SendGrid mail payload",
			err,
		)
	}

	reqURL := s.baseURL + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create SendGrid mail send request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", s.wrapSendGridError("Send", err)
	}
	defer resp.Body.Close()

	// SendGrid returns 202 Accepted on success.
	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}

	return "", s.handleErrorResponse(resp, "Send")
}

// sendGridMailPayload represents the SendGrid v3 mail/send JSON request body
// with inline content blocks.
type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	// custom_args allows correlation with internal notification IDs
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildMailPayload maps a rendered EmailMessage to the SendGrid v3 payload.
// SendGrid requires text/plain content before text/html.
func (s *SendGridClient) buildMailPayload(msg EmailMessage) sendGridMailPayload {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: msg.To, Name: msg.ToName}}},
		},
		From: sendGridAddress{
			Email: s.fromAddress,
			Name:  s.fromName,
		},
		Subject: msg.Subject,
	}

	if msg.TextBody != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: msg.HTMLBody})
	}

	if msg.ReferenceID != "" {
		payload.CustomArgs = map[string]string{
			"reference_id": msg.ReferenceID,
		}
	}

	return payload
}

// sendGridErrorResponse represents the JSON error body returned by SendGrid.
type sendGridErrorResponse struct {
	Errors []sendGridErrorDetail `json:"errors"`
}

type sendGridErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field"`
	Help    string `json:"help"`
}

// handleErrorResponse reads a SendGrid error response and maps it to a
// types.AppError.
func (s *SendGridClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("%s: SendGrid returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var sgErr sendGridErrorResponse
	errMsg := ""
	if jsonErr := json.Unmarshal(body, &sgErr); jsonErr == nil && len(sgErr.Errors) > 0 {
		errMsg = sgErr.Errors[0].Message
	} else {
		errMsg = string(body)
	}

	return s.mapSendGridError(operation, resp.StatusCode, errMsg)
}

// mapSendGridError translates a SendGrid HTTP error into a types.AppError.
func (s *SendGridClient) mapSendGridError(operation string, statusCode int, message string) error {
	switch {
	case statusCode == http.StatusForbidden:
		// 403: recipient is on a suppression list / sender blocked.
		return types.NewAppError(
			types.ErrCodeDeliveryRejected,
			fmt.Sprintf("%s: SendGrid blocked delivery: %s", operation, message),
			nil,
		)
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimit,
			fmt.Sprintf("%s: SendGrid rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: SendGrid server error: %s", operation, message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("%s: SendGrid error (%d): %s", operation, statusCode, message),
			nil,
		)
	}
}

// wrapSendGridError wraps a BaseClient transport error with context.
func (s *SendGridClient) wrapSendGridError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamEmail,
		fmt.Sprintf("%s: SendGrid request failed: %v", operation, err),
		err,
	)
}

// Compile-time assertion that SendGridClient satisfies EmailProvider.
var _ EmailProvider = (*SendGridClient)(nil)
