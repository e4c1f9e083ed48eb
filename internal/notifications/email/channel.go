package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"

	"finpulse/internal/external"
	"finpulse/internal/types"
)

// renderedPayload is the wire form Format hands to Deliver. Rendering
// happens once at enqueue time; a retried job resends identical content.
type renderedPayload struct {
	Subject     string `json:"subject"`
	TextBody    string `json:"text_body"`
	HTMLBody    string `json:"html_body"`
	ReferenceID string `json:"reference_id"`
	ToName      string `json:"to_name,omitempty"`
}

// EmailChannel implements types.NotificationChannel for transactional
// email. Content is rendered by the package Renderer and transmitted
// through an external.EmailProvider; sender identity belongs to the
// provider client, not to this channel.
type EmailChannel struct {
	provider external.EmailProvider
	renderer *Renderer
	logger   types.Logger
}

// NewEmailChannel builds the channel. All three dependencies are required.
func NewEmailChannel(provider external.EmailProvider, renderer *Renderer, logger types.Logger) (*EmailChannel, error) {
	if provider == nil {
		return nil, fmt.Errorf("email channel: provider is nil")
	}
	if renderer == nil {
		return nil, fmt.Errorf("email channel: renderer is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("email channel: logger is nil")
	}
	return &EmailChannel{
		provider: provider,
		renderer: renderer,
		logger:   logger,
	}, nil
}

// Type returns the channel type identifier for email.
func (e *EmailChannel) Type() types.ChannelType {
	return types.ChannelEmail
}

// ValidateConfig checks that the channel config carries a parseable
// 'address'. An optional 'name' (recipient display name) is allowed.
func (e *EmailChannel) ValidateConfig(config map[string]any) error {
	addr, err := addressFromConfig(config)
	if err != nil {
		return fmt.Errorf("email channel: %w", err)
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("email channel: 'address' is not a valid email address: %q", addr)
	}
	if name, ok := config["name"]; ok {
		if _, isString := name.(string); !isString {
			return fmt.Errorf("email channel: 'name' must be a string")
		}
	}
	return nil
}

// Format renders the notification into subject, text and HTML bodies and
// packs them as JSON for Deliver.
func (e *EmailChannel) Format(ctx context.Context, n *types.Notification, config map[string]any) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("email channel: notification is nil")
	}

	rendered, err := e.renderer.Render(n)
	if err != nil {
		return nil, err
	}

	p := renderedPayload{
		Subject:     rendered.Subject,
		TextBody:    rendered.TextBody,
		HTMLBody:    rendered.HTMLBody,
		ReferenceID: n.ID,
	}
	if name, ok := config["name"].(string); ok {
		p.ToName = name
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("email channel: failed to marshal rendered payload: %w", err)
	}
	return payload, nil
}

// Deliver transmits a rendered payload to the address in the channel
// config. Provider failures are folded into the DeliveryResult rather
// than returned as errors; the queue reads Retryable to decide whether
// the job re-enters the backoff loop.
func (e *EmailChannel) Deliver(ctx context.Context, payload []byte, config map[string]any) (*types.DeliveryResult, error) {
	address, err := addressFromConfig(config)
	if err != nil {
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: fmt.Sprintf("missing_address: %v", err),
			Retryable:     false,
		}, nil
	}

	var p renderedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "invalid_payload",
			Retryable:     false,
		}, nil
	}

	e.logger.Info("email delivery attempt",
		"reference_id", p.ReferenceID,
		"to", RedactEmail(address),
	)

	msgID, err := e.provider.Send(ctx, external.EmailMessage{
		To:          address,
		ToName:      p.ToName,
		Subject:     p.Subject,
		TextBody:    p.TextBody,
		HTMLBody:    p.HTMLBody,
		ReferenceID: p.ReferenceID,
	})
	if err != nil {
		return e.classifySendError(err, address, p.ReferenceID)
	}

	e.logger.Info("email delivered",
		"reference_id", p.ReferenceID,
		"provider_message_id", msgID,
	)
	return &types.DeliveryResult{
		ProviderMessageID: msgID,
		Status:            types.DeliveryStatusSent,
	}, nil
}

// classifySendError folds a provider error into a delivery result.
// Suppressed recipients are permanent; throttling and outages retry on
// the queue's backoff. Everything else defaults to retryable because
// the provider wraps transport failures and malformed-request rejections
// under the same code, and bounded retry caps the waste.
func (e *EmailChannel) classifySendError(err error, address, referenceID string) (*types.DeliveryResult, error) {
	if IsSuppressionError(err) {
		e.logger.Warn("email recipient suppressed by provider",
			"reference_id", referenceID,
			"to", RedactEmail(address),
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "recipient_suppressed",
			Retryable:     false,
		}, nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeUpstreamRateLimit:
			e.logger.Warn("email provider throttled", "reference_id", referenceID)
			return &types.DeliveryResult{
				Status:        types.DeliveryStatusFailed,
				FailureReason: "provider_throttled",
				Retryable:     true,
			}, nil
		case types.ErrCodeUpstreamUnavailable:
			e.logger.Warn("email provider unavailable", "reference_id", referenceID)
			return &types.DeliveryResult{
				Status:        types.DeliveryStatusFailed,
				FailureReason: "provider_unavailable",
				Retryable:     true,
			}, nil
		}
	}

	e.logger.Warn("email send failed",
		"reference_id", referenceID,
		"to", RedactEmail(address),
		"error", err.Error(),
	)
	return &types.DeliveryResult{
		Status:        types.DeliveryStatusFailed,
		FailureReason: fmt.Sprintf("send_failed: %v", err),
		Retryable:     true,
	}, nil
}

// ShouldRetry reports whether an error from Format or Deliver is worth
// another attempt. Only suppression is terminal; rendering and transport
// problems default to retryable.
func (e *EmailChannel) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !IsSuppressionError(err)
}

// addressFromConfig extracts the destination address from channel config.
func addressFromConfig(config map[string]any) (string, error) {
	raw, ok := config["address"]
	if !ok {
		return "", fmt.Errorf("missing required 'address' field")
	}
	addr, ok := raw.(string)
	if !ok || addr == "" {
		return "", fmt.Errorf("'address' must be a non-empty string")
	}
	return addr, nil
}

// Compile-time assertion that EmailChannel implements types.NotificationChannel.
var _ types.NotificationChannel = (*EmailChannel)(nil)
