// This file implements the inbound SendGrid Event Webhook endpoint.
//
// The endpoint is called directly by SendGrid, not by the main
// application. When a webhook public key is configured, the provider's
// ECDSA signature is verified before any event is processed.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finpulse/internal/core"
	"finpulse/internal/notifications/email"
	"finpulse/internal/types"
)

// maxEventBodySize caps inbound event webhook payloads (1 MB). SendGrid
// batches events, so bodies run larger than a single-event hook.
const maxEventBodySize = 1 << 20

// SendGrid's signed Event Webhook headers.
const (
	headerEventSignature = "X-Twilio-Email-Event-Webhook-Signature"
	headerEventTimestamp = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// FeedbackProcessor applies bounce and complaint events to email channel
// health. Implemented by email.BounceProcessor.
type FeedbackProcessor interface {
	Process(ctx context.Context, events []email.BounceEvent) error
}

// EmailEventsHandler receives asynchronous delivery feedback from the
// email provider.
type EmailEventsHandler struct {
	processor FeedbackProcessor
	verifier  *email.EventVerifier
	logger    *slog.Logger
}

// NewEmailEventsHandler creates an EmailEventsHandler. A nil verifier
// skips signature checks, for deployments that have not enabled the
// provider's signed webhook.
func NewEmailEventsHandler(processor FeedbackProcessor, verifier *email.EventVerifier, logger *slog.Logger) *EmailEventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailEventsHandler{
		processor: processor,
		verifier:  verifier,
		logger:    logger,
	}
}

// RegisterRoutes mounts the provider hook endpoint.
func (h *EmailEventsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/sendgrid", h.Handle)
}

// Handle processes a batch of SendGrid events.
//
// The provider retries on any non-2xx response, so processing failures
// after a verified, parseable body are logged and acknowledged with 200
// rather than bounced back into a retry loop. Only unreadable,
// unverifiable, or unparseable requests are rejected.
func (h *EmailEventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read event webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeHookPayloadInvalid,
			"failed to read request body",
			err,
		))
		return
	}

	if h.verifier != nil {
		timestamp := r.Header.Get(headerEventTimestamp)
		signature := r.Header.Get(headerEventSignature)
		if err := h.verifier.Verify(timestamp, signature, payload); err != nil {
			h.logger.WarnContext(r.Context(), "event webhook signature verification failed",
				"error", err,
			)
			core.Error(w, r, types.NewAppError(
				types.ErrCodeHookSignatureInvalid,
				"webhook signature verification failed",
				err,
			))
			return
		}
	}

	events, err := email.ParseEventBatch(payload)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse event webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeHookPayloadInvalid,
			"invalid event webhook body",
			err,
		))
		return
	}

	if len(events) == 0 {
		// Batches of opens, clicks and deliveries parse to nothing.
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.InfoContext(r.Context(), "processing email feedback batch",
		"events", len(events),
	)

	if err := h.processor.Process(r.Context(), events); err != nil {
		h.logger.ErrorContext(r.Context(), "email feedback processing failed",
			"events", len(events),
			"error", err,
		)
		// Acknowledge anyway; redelivering the batch would replay the
		// events that already succeeded.
	}

	w.WriteHeader(http.StatusOK)
}
