package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finpulse/internal/types"
)

// FeedbackType classifies asynchronous email feedback from the provider.
type FeedbackType string

const (
	// FeedbackBounce indicates a hard bounce (undeliverable address).
	FeedbackBounce FeedbackType = "bounce"

	// FeedbackComplaint indicates a spam complaint from the recipient.
	FeedbackComplaint FeedbackType = "complaint"
)

// BounceEvent normalizes provider-specific bounce/complaint payloads into a
// common structure for the BounceProcessor.
type BounceEvent struct {
	// ProviderMessageID is the provider's identifier for the original send.
	ProviderMessageID string

	// ReferenceID is the notification ID echoed back from the send-time
	// custom args, when the provider preserved it.
	ReferenceID string

	// EmailAddress is the recipient that bounced or filed a complaint.
	EmailAddress string

	// Reason is the human-readable explanation from the provider.
	Reason string

	// Type classifies the feedback as a bounce or spam complaint.
	Type FeedbackType

	// Timestamp is when the provider recorded the event.
	Timestamp time.Time
}

// ChannelHealthStore tracks email channel health keyed by recipient
// address. Implemented by db.UserRepository over the users JSONB channels
// array with optimistic-locking updates.
type ChannelHealthStore interface {
	// RecordEmailFailure increments the failure count on the email channel
	// holding the address and returns the owning user and the new count.
	RecordEmailFailure(ctx context.Context, address string) (userID string, failures int, err error)

	// DisableEmailChannel turns the channel off and records why. Returns
	// the owning user.
	DisableEmailChannel(ctx context.Context, address, reason string) (userID string, err error)
}

// Alerter sends a system alert to a user through whatever channels they
// still have. A nil Alerter disables owner notification.
type Alerter interface {
	SystemAlert(ctx context.Context, userID, title, body string) error
}

// maxBounceFailures is the threshold at which an email channel is
// automatically disabled due to repeated hard bounces.
const maxBounceFailures = 3

// BounceProcessor applies provider bounce and complaint feedback to channel
// health: complaints disable the email channel immediately, hard bounces
// accumulate until the threshold. Owners are told through their remaining
// channels when a disable happens -- emailing the dead address would be
// pointless.
type BounceProcessor struct {
	store   ChannelHealthStore
	alerter Alerter
	logger  types.Logger
}

// NewBounceProcessor creates a BounceProcessor. The alerter may be nil.
func NewBounceProcessor(store ChannelHealthStore, alerter Alerter, logger types.Logger) (*BounceProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("bounce processor: store is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("bounce processor: logger is nil")
	}
	return &BounceProcessor{
		store:   store,
		alerter: alerter,
		logger:  logger,
	}, nil
}

// Process applies a batch of feedback events. Events for addresses no user
// owns are skipped, not failed -- channels get edited and deleted while
// provider feedback is in flight. Store failures are collected and the
// whole batch keeps going; the webhook caller decides whether to ask the
// provider for a redelivery.
func (b *BounceProcessor) Process(ctx context.Context, events []BounceEvent) error {
	var errs []error
	for _, event := range events {
		if err := b.processOne(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *BounceProcessor) processOne(ctx context.Context, event BounceEvent) error {
	b.logger.Info("processing email feedback",
		"provider_message_id", event.ProviderMessageID,
		"reference_id", event.ReferenceID,
		"email", RedactEmail(event.EmailAddress),
		"type", string(event.Type),
		"reason", event.Reason,
	)

	switch event.Type {
	case FeedbackComplaint:
		return b.handleComplaint(ctx, event)
	case FeedbackBounce:
		return b.handleBounce(ctx, event)
	default:
		b.logger.Warn("unknown feedback type, treating as bounce",
			"type", string(event.Type),
			"provider_message_id", event.ProviderMessageID,
		)
		return b.handleBounce(ctx, event)
	}
}

// handleComplaint disables the channel immediately. One spam report is
// enough; continuing to send risks the whole sending domain's reputation.
func (b *BounceProcessor) handleComplaint(ctx context.Context, event BounceEvent) error {
	userID, err := b.store.DisableEmailChannel(ctx, event.EmailAddress, "spam_complaint")
	if err != nil {
		if isUnknownAddress(err) {
			b.logger.Warn("complaint for unknown address, skipping",
				"email", RedactEmail(event.EmailAddress),
			)
			return nil
		}
		return fmt.Errorf("bounce processor: disable channel on complaint: %w", err)
	}

	b.logger.Warn("spam complaint received, email channel disabled",
		"user_id", userID,
		"email", RedactEmail(event.EmailAddress),
	)

	b.notifyOwner(ctx, userID, fmt.Sprintf(
		"Your address %s reported a FinPulse email as spam, so email notifications were turned off. You can re-enable them in your notification settings.",
		RedactEmail(event.EmailAddress),
	))
	return nil
}

// handleBounce counts the failure and disables the channel once the
// threshold is reached.
func (b *BounceProcessor) handleBounce(ctx context.Context, event BounceEvent) error {
	userID, failures, err := b.store.RecordEmailFailure(ctx, event.EmailAddress)
	if err != nil {
		if isUnknownAddress(err) {
			b.logger.Warn("bounce for unknown address, skipping",
				"email", RedactEmail(event.EmailAddress),
			)
			return nil
		}
		return fmt.Errorf("bounce processor: record email failure: %w", err)
	}

	b.logger.Info("email failure recorded",
		"user_id", userID,
		"email", RedactEmail(event.EmailAddress),
		"failures", failures,
	)

	if failures < maxBounceFailures {
		return nil
	}

	if _, err := b.store.DisableEmailChannel(ctx, event.EmailAddress, "hard_bounce"); err != nil {
		if isUnknownAddress(err) {
			return nil
		}
		return fmt.Errorf("bounce processor: disable channel on bounce threshold: %w", err)
	}

	b.logger.Warn("bounce threshold reached, email channel disabled",
		"user_id", userID,
		"email", RedactEmail(event.EmailAddress),
		"failures", failures,
	)

	b.notifyOwner(ctx, userID, fmt.Sprintf(
		"Delivery to %s failed %d times in a row, so email notifications were turned off. Update the address in your notification settings to re-enable them.",
		RedactEmail(event.EmailAddress), failures,
	))
	return nil
}

// notifyOwner routes a disable notice through the user's remaining
// channels. Best-effort: the channel is already disabled, so a failed
// alert only loses the heads-up.
func (b *BounceProcessor) notifyOwner(ctx context.Context, userID, body string) {
	if b.alerter == nil {
		return
	}
	if err := b.alerter.SystemAlert(ctx, userID, "Email notifications disabled", body); err != nil {
		b.logger.Error("failed to notify owner of disabled email channel",
			"user_id", userID,
			"error", err.Error(),
		)
	}
}

func isUnknownAddress(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser
}
