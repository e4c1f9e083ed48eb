// Package webhook implements the webhook notification delivery channel.
//
// It handles platform auto-detection (Slack, Discord, generic), payload
// formatting using platform-specific JSON schemas, HMAC signing with
// dual-validity rotation support, and strict SSRF protection on every
// network hop.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"finpulse/internal/config"
	"finpulse/internal/security"
	"finpulse/internal/types"
)

// SignatureHeader carries the HMAC signature on outbound deliveries.
const SignatureHeader = "X-FinPulse-Signature"

// maxResponseBodyRead limits how much of a response body we read for error
// messages and provider message ID extraction.
const maxResponseBodyRead = 4096

// Compile-time assertion that WebhookChannel implements types.NotificationChannel.
var _ types.NotificationChannel = (*WebhookChannel)(nil)

// WebhookChannel implements types.NotificationChannel for webhook delivery.
// It formats payloads using platform-specific formatters, signs them with
// HMAC-SHA256 when the channel config carries a secret, and delivers via
// HTTP POST with SSRF protection.
type WebhookChannel struct {
	registry   *PlatformRegistry
	signer     Signer
	httpClient *http.Client
	config     *config.WebhookConfig
	logger     types.Logger
	clock      types.Clock
}

// NewWebhookChannel creates a WebhookChannel with an SSRF-safe HTTP client.
// This is the factory the engine entrypoint uses.
func NewWebhookChannel(cfg *config.WebhookConfig, logger types.Logger) (*WebhookChannel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webhook channel: config is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("webhook channel: logger is nil")
	}

	return &WebhookChannel{
		registry:   NewPlatformRegistry(),
		signer:     NewSignatureManager(),
		httpClient: security.NewSafeHTTPClient(cfg.DefaultTimeout, cfg.MaxRedirects),
		config:     cfg,
		logger:     logger,
		clock:      types.RealClock{},
	}, nil
}

// NewWebhookChannelWithClient creates a WebhookChannel with a caller-supplied
// HTTP client and signer. This constructor exists for testing, allowing
// injection of a mock HTTP server client.
func NewWebhookChannelWithClient(
	cfg *config.WebhookConfig,
	signer Signer,
	httpClient *http.Client,
	logger types.Logger,
) *WebhookChannel {
	return &WebhookChannel{
		registry:   NewPlatformRegistry(),
		signer:     signer,
		httpClient: httpClient,
		config:     cfg,
		logger:     logger,
		clock:      types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (w *WebhookChannel) SetClock(c types.Clock) {
	w.clock = c
}

// Type returns the channel type identifier for webhooks.
func (w *WebhookChannel) Type() types.ChannelType {
	return types.ChannelWebhook
}

// ValidateConfig checks if the webhook channel configuration is valid.
// The config must contain an HTTPS "url"; "secret" and "platform_override"
// are optional but must be non-empty strings when present.
func (w *WebhookChannel) ValidateConfig(cfg map[string]any) error {
	urlVal, ok := cfg["url"]
	if !ok {
		return fmt.Errorf("webhook channel: missing required 'url' field")
	}

	urlStr, ok := urlVal.(string)
	if !ok || urlStr == "" {
		return fmt.Errorf("webhook channel: 'url' must be a non-empty string")
	}

	if err := types.ValidateWebhookURL(urlStr); err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}

	if secretVal, ok := cfg["secret"]; ok {
		if secret, isStr := secretVal.(string); !isStr || secret == "" {
			return fmt.Errorf("webhook channel: 'secret' must be a non-empty string when set")
		}
	}

	if overrideVal, ok := cfg["platform_override"]; ok {
		if override, isStr := overrideVal.(string); !isStr || override == "" {
			return fmt.Errorf("webhook channel: 'platform_override' must be a non-empty string when set")
		}
	}

	return nil
}

// Format transforms the generic Notification into a platform-specific payload.
// Uses PlatformRegistry to detect the target platform and apply the correct
// formatter.
func (w *WebhookChannel) Format(ctx context.Context, n *types.Notification, cfg map[string]any) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("webhook channel: notification is nil")
	}

	url, _ := cfg["url"].(string)
	platform := w.registry.Detect(url, cfg)
	formatter := w.registry.Get(platform)

	return formatter.Format(ctx, n, cfg)
}

// Deliver executes the webhook transmission. It POSTs the pre-formatted
// payload to the URL in the channel config, with HMAC signature headers
// when a secret is configured.
//
// Response handling:
//   - 2xx: Validate the platform-specific response body, return success
//   - 408, 429: Return Retryable=true (throttled)
//   - Other 4xx: Return Retryable=false (permanent failure)
//   - 5xx: Return Retryable=true (transient failure)
//   - Network errors: Retryable=true, except SSRF screening failures
//     which are permanent
func (w *WebhookChannel) Deliver(ctx context.Context, payload []byte, cfg map[string]any) (*types.DeliveryResult, error) {
	url, _ := cfg["url"].(string)
	if url == "" {
		return permanentFailure("missing_url: channel config has no 'url'"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return permanentFailure(fmt.Sprintf("invalid_url: %v", err)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.config.UserAgent)

	if err := w.signRequest(req, payload, cfg); err != nil {
		return permanentFailure(fmt.Sprintf("signing_failed: %v", err)), nil
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if isScreenError(err) {
			w.logger.Error("webhook destination blocked",
				"url", url,
				"error", err.Error(),
			)
			return permanentFailure(fmt.Sprintf("ssrf_blocked: %v", err)), nil
		}

		// Timeouts and other transient network errors are retryable.
		w.logger.Warn("webhook network error",
			"url", url,
			"error", err.Error(),
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: fmt.Sprintf("network_error: %v", err),
			Retryable:     true,
		}, nil
	}
	defer resp.Body.Close()

	// Read response body (limited to prevent memory abuse).
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return w.handle2xx(resp, body, url, cfg)

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return w.handleThrottled(resp, url)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return w.handle4xx(resp, body, url)

	default: // 5xx and anything unexpected
		return w.handle5xx(resp, body, url)
	}
}

// signRequest sets the signature header when the channel config carries a
// signing secret. Unsigned deliveries are allowed; the receiver opted out
// of verification by not configuring a secret.
func (w *WebhookChannel) signRequest(req *http.Request, payload []byte, cfg map[string]any) error {
	secret, ok := cfg["secret"].(string)
	if !ok || secret == "" {
		return nil
	}

	sig, err := w.signer.SignPayload(payload, cfg, w.clock.Now())
	if err != nil {
		return err
	}

	req.Header.Set(SignatureHeader, sig)
	return nil
}

// handle2xx processes successful responses by validating platform-specific
// response bodies (e.g., Slack "ok": false detection).
func (w *WebhookChannel) handle2xx(resp *http.Response, body []byte, url string, cfg map[string]any) (*types.DeliveryResult, error) {
	platform := w.registry.Detect(url, cfg)
	formatter := w.registry.Get(platform)

	if err := formatter.ValidateResponse(resp.StatusCode, body); err != nil {
		// Soft failure (e.g., Slack HTTP 200 with "ok": false).
		w.logger.Warn("webhook soft failure on 2xx",
			"url", url,
			"status", resp.StatusCode,
			"error", err.Error(),
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: fmt.Sprintf("soft_failure: %v", err),
			Retryable:     true,
		}, nil
	}

	providerMsgID := extractProviderMessageID(resp, platform)

	w.logger.Info("webhook delivered",
		"url", url,
		"status", resp.StatusCode,
		"provider_message_id", providerMsgID,
	)

	return &types.DeliveryResult{
		ProviderMessageID: providerMsgID,
		Status:            types.DeliveryStatusSent,
	}, nil
}

// handleThrottled returns a retryable failure for 408 and 429 responses.
// The queue applies its own backoff; a Retry-After header is logged for
// operators but does not change the schedule.
func (w *WebhookChannel) handleThrottled(resp *http.Response, url string) (*types.DeliveryResult, error) {
	w.logger.Warn("webhook throttled",
		"url", url,
		"status", resp.StatusCode,
		"retry_after", resp.Header.Get("Retry-After"),
	)

	return &types.DeliveryResult{
		Status:        types.DeliveryStatusFailed,
		FailureReason: fmt.Sprintf("throttled_%d", resp.StatusCode),
		Retryable:     true,
	}, nil
}

// handle4xx returns a permanent (non-retryable) failure for client errors.
func (w *WebhookChannel) handle4xx(resp *http.Response, body []byte, url string) (*types.DeliveryResult, error) {
	reason := fmt.Sprintf("client_error_%d: %s", resp.StatusCode, truncateBody(body))

	w.logger.Warn("webhook client error",
		"url", url,
		"status", resp.StatusCode,
		"body", truncateBody(body),
	)

	return permanentFailure(reason), nil
}

// handle5xx returns a retryable failure for server errors.
func (w *WebhookChannel) handle5xx(resp *http.Response, body []byte, url string) (*types.DeliveryResult, error) {
	reason := fmt.Sprintf("server_error_%d: %s", resp.StatusCode, truncateBody(body))

	w.logger.Warn("webhook server error",
		"url", url,
		"status", resp.StatusCode,
		"body", truncateBody(body),
	)

	return &types.DeliveryResult{
		Status:        types.DeliveryStatusFailed,
		FailureReason: reason,
		Retryable:     true,
	}, nil
}

// ShouldRetry inspects a raw transport error to determine if it is transient.
// SSRF screening failures are permanent; anything else is assumed transient.
func (w *WebhookChannel) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !isScreenError(err)
}

// permanentFailure builds a failed, non-retryable DeliveryResult.
func permanentFailure(reason string) *types.DeliveryResult {
	return &types.DeliveryResult{
		Status:        types.DeliveryStatusFailed,
		FailureReason: reason,
		Retryable:     false,
	}
}

// extractProviderMessageID attempts to find a provider-assigned message ID
// from response headers, falling back to a synthetic ID.
func extractProviderMessageID(resp *http.Response, platform Platform) string {
	switch platform {
	case PlatformSlack:
		if reqID := resp.Header.Get("X-Slack-Req-Id"); reqID != "" {
			return reqID
		}
	}

	// Go's http.Header.Get is case-insensitive, so "X-Request-Id" matches
	// "X-Request-ID" as well.
	if reqID := resp.Header.Get("X-Request-Id"); reqID != "" {
		return reqID
	}

	return syntheticID(resp.StatusCode)
}

// syntheticID creates a traceable reference when no upstream provider ID is
// available in response headers.
//
// Format: hook-{status}-{timestamp}-{uuid_short}
// Example: hook-200-1706745600-a1b2c3d4
func syntheticID(statusCode int) string {
	return fmt.Sprintf("hook-%d-%d-%s",
		statusCode,
		time.Now().Unix(),
		uuid.New().String()[:8],
	)
}

// isScreenError checks if an error came from SSRF screening.
func isScreenError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, security.ErrBlockedAddress) ||
		errors.Is(err, security.ErrDNSTimeout) ||
		errors.Is(err, security.ErrDNSFailure) ||
		errors.Is(err, security.ErrRedirectLimit)
}
