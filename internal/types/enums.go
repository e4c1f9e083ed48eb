package types

// Frequency defines the recurrence cadence of a rule.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// Valid reports whether f is one of the supported cadences.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

// TransactionKind distinguishes money leaving from money entering an account.
type TransactionKind string

const (
	KindExpense TransactionKind = "expense"
	KindIncome  TransactionKind = "income"
)

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelWebhook  ChannelType = "webhook"
	ChannelEmail    ChannelType = "email"
)

// NoticeKind identifies the kind of notification event.
type NoticeKind string

const (
	NoticeOccurrenceDue       NoticeKind = "occurrence_due"
	NoticeOccurrenceProcessed NoticeKind = "occurrence_processed"
	NoticeUpcomingReminder    NoticeKind = "upcoming_reminder"
	NoticeCatchUpDigest       NoticeKind = "catchup_digest"
	NoticeSystemAlert         NoticeKind = "system_alert"
)

// JobState enumerates the delivery lifecycle of a queued notification job.
// Transitions: pending -> in_flight -> {delivered | retry_scheduled | dropped}.
// A retry_scheduled job re-enters the queue tail with a not-before time.
type JobState string

const (
	JobStatePending        JobState = "pending"
	JobStateInFlight       JobState = "in_flight"
	JobStateDelivered      JobState = "delivered"
	JobStateRetryScheduled JobState = "retry_scheduled"
	JobStateDropped        JobState = "dropped"
)

// DeliveryStatus is the outcome a channel reports for one delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

// JobType identifies a scheduled maintenance or sweep task. Used as the
// job_history.job_type value and as the prefix of job lock IDs.
type JobType string

const (
	JobCatchUpSweep   JobType = "catchup_sweep"
	JobReminderScan   JobType = "reminder_scan"
	JobHistoryArchive JobType = "history_archive"
	JobLockPrune      JobType = "lock_prune"
)
