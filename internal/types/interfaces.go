package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// SSRFValidator checks if a webhook URL is safe to call.
type SSRFValidator func(url string) error

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// SleepFunc abstracts blocking waits so tests can run without real delays.
// Implementations must return early with ctx.Err() when the context ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc. It blocks for d or until the
// context is cancelled, whichever comes first.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Logger defines the structured logging interface used throughout the engine.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NotificationChannel defines the interface for a notification delivery channel.
type NotificationChannel interface {
	// Type returns the channel type (e.g., "telegram", "webhook").
	Type() ChannelType

	// ValidateConfig checks if the channel config is valid before first use.
	ValidateConfig(config map[string]any) error

	// Format transforms the generic Notification into a channel-specific payload.
	Format(ctx context.Context, n *Notification, config map[string]any) ([]byte, error)

	// Deliver executes the transmission. The destination (chat id, URL, or
	// address depending on the type) is extracted from config by the channel.
	Deliver(ctx context.Context, payload []byte, config map[string]any) (*DeliveryResult, error)

	// ShouldRetry inspects an error to determine if it is transient.
	ShouldRetry(err error) bool
}

// JobLocker provides distributed locking for scheduled tasks so overlapping
// sweeps on separate processes do not double-run.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian records scheduled task executions for operational visibility.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}
