package types

import "time"

// NotificationJob is the envelope carried through the in-process delivery
// queue. The dispatcher enqueues one job per (notification, enabled channel);
// the queue worker owns the job from dequeue to a terminal state.
type NotificationJob struct {
	// Core identity
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Routing. ChannelConfig is a snapshot of the channel settings taken at
	// enqueue time so delivery never re-reads the user row.
	ChannelID     string         `json:"channel_id"`
	ChannelType   ChannelType    `json:"channel_type"`
	ChannelConfig map[string]any `json:"channel_config,omitempty"`

	// Notice is the rendered notification this job delivers.
	Notice *Notification `json:"notice"`

	// State tracks the job through the delivery lifecycle. Only the queue
	// worker mutates it after enqueue.
	State JobState `json:"state"`

	// Retry state. RetryCount is incremented by the worker on transient
	// failures before the job is re-queued; NotBefore holds the earliest
	// eligible delivery time for retry-scheduled jobs.
	RetryCount int       `json:"retry_count"`
	NotBefore  time.Time `json:"not_before,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// Observability
	TraceID string `json:"trace_id"`
}

// Eligible reports whether the job may be attempted at the given time.
// Jobs with a zero NotBefore are always eligible.
func (j *NotificationJob) Eligible(now time.Time) bool {
	return j.NotBefore.IsZero() || !now.Before(j.NotBefore)
}
