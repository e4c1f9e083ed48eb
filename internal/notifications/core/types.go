// Package core provides the shared notification infrastructure used by the
// delivery pipeline: the dispatcher that turns materialized occurrences into
// channel jobs, the policy engine that decides when a notice may go out, and
// the retry policy the queue applies to failed sends.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"finpulse/internal/types"
)

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision string

const (
	// PolicyDeliverImmediately indicates the notification should be sent now.
	PolicyDeliverImmediately PolicyDecision = "deliver"

	// PolicySuppress indicates the notification should not be sent at all.
	PolicySuppress PolicyDecision = "suppress"

	// PolicyDefer indicates the notification should be held until a later time.
	PolicyDefer PolicyDecision = "defer"
)

// PolicyResult contains the outcome and metadata from a policy evaluation.
type PolicyResult struct {
	Decision PolicyDecision
	Reason   string
	ResumeAt *time.Time // Set when Decision is PolicyDefer
}

// PolicyEngine decides whether a notification should be delivered now,
// deferred, or suppressed based on the user's preferences.
type PolicyEngine interface {
	// Evaluate checks quiet hours and per-kind preference switches. The user's
	// local time is resolved through QuietHoursConfig.Timezone, never the
	// server timezone. Evaluation errors fail open: a broken quiet-hours
	// config must not silence notifications.
	Evaluate(ctx context.Context, n *types.Notification, user *types.User) (PolicyResult, error)
}

// Enqueuer accepts delivery jobs. Implemented by the notification queue;
// the dispatcher's only side effect goes through this seam.
type Enqueuer interface {
	Enqueue(job *types.NotificationJob) error
}

// CurrencyConverter converts an amount between currencies. The returned code
// names the currency the returned amount is denominated in, which is the
// source currency when conversion was not possible.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, string)
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricDropped MetricResult = "dropped"
)

// NotificationMetrics abstracts delivery telemetry so the queue does not
// depend on a concrete metrics backend.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
// MaxAttempts counts retries after the initial send, not total sends.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DeliveryRetryPolicy is the queue's standard policy: retry k waits 2^k
// seconds, a job is dropped after the third retry fails.
var DeliveryRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before retry number attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}
