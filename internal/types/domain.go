package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Users and channels
// ============================================================

// User is an account holder. The engine reads users to resolve display
// currency, quiet hours, and the set of configured delivery channels.
type User struct {
	ID          string `json:"id" db:"id"`
	Email       string `json:"email" db:"email"`
	DisplayName string `json:"display_name" db:"display_name"`

	// Currency is the ISO 4217 code all notification amounts are formatted in.
	Currency string `json:"currency" db:"currency"`
	Timezone string `json:"timezone" db:"timezone"`

	Channels          ChannelList              `json:"channels" db:"channels"`
	NotificationPrefs *NotificationPreferences `json:"preferences,omitempty" db:"preferences"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Channel is one configured delivery endpoint for a user. Config holds
// channel-specific settings (chat_id for telegram, url and secret for
// webhooks, address for email).
type Channel struct {
	ID      string         `json:"id"`
	Type    ChannelType    `json:"type"`
	Config  map[string]any `json:"config"`
	Enabled bool           `json:"enabled"`

	// FailureCount tracks consecutive hard bounces reported by the email
	// provider; DisabledReason is set when the engine turns the channel off.
	FailureCount   int    `json:"failure_count,omitempty"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

// ChannelList is the JSONB-backed set of channels on a user row.
type ChannelList []Channel

// sensitiveConfigKeys are redacted by Channel.MarshalJSON so webhook secrets
// and bot tokens never appear in API responses or logs.
var sensitiveConfigKeys = map[string]bool{
	"secret":    true,
	"token":     true,
	"bot_token": true,
	"api_key":   true,
}

// MarshalJSON serializes the channel with sensitive config values redacted.
// Database persistence bypasses this via the alias type in ChannelList.Value.
func (c Channel) MarshalJSON() ([]byte, error) {
	redacted := make(map[string]any, len(c.Config))
	for k, v := range c.Config {
		if sensitiveConfigKeys[k] {
			redacted[k] = redactedPlaceholder
		} else {
			redacted[k] = v
		}
	}
	type alias struct {
		ID      string         `json:"id"`
		Type    ChannelType    `json:"type"`
		Config  map[string]any `json:"config"`
		Enabled bool           `json:"enabled"`
	}
	return json.Marshal(alias{ID: c.ID, Type: c.Type, Config: redacted, Enabled: c.Enabled})
}

// ============================================================
// Recurring rules and occurrences
// ============================================================

// RecurringRule describes a repeating transaction template. The engine
// materializes one Occurrence per elapsed period and advances NextDueDate.
type RecurringRule struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Name     string          `json:"name" db:"name"`
	Kind     TransactionKind `json:"kind" db:"kind"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Currency string          `json:"currency" db:"currency"`

	// BaseAmount/BaseCurrency is the amount normalized to the owning user's
	// display currency, derived at rule write time. When rate lookup fails
	// the pair degrades to a copy of Amount/Currency rather than recording a
	// cross-currency figure that was never converted.
	BaseAmount   decimal.Decimal `json:"base_amount" db:"base_amount"`
	BaseCurrency string          `json:"base_currency" db:"base_currency"`

	Category string `json:"category" db:"category"`

	Frequency Frequency `json:"frequency" db:"frequency"`

	// AnchorDate is the first scheduled occurrence and the day-of-month /
	// day-of-year reference for monthly and yearly advancement. UTC midnight.
	AnchorDate time.Time  `json:"anchor_date" db:"anchor_date"`
	EndDate    *time.Time `json:"end_date,omitempty" db:"end_date"`

	IsActive bool `json:"is_active" db:"is_active"`

	// LastProcessedDate is the most recent occurrence date that was
	// materialized (or found already present). Nil before the first run.
	LastProcessedDate *time.Time `json:"last_processed_date,omitempty" db:"last_processed_date"`

	// NextDueDate is the earliest not-yet-materialized occurrence date.
	// Recomputed at the end of every catch-up walk, including no-op walks.
	NextDueDate time.Time `json:"next_due_date" db:"next_due_date"`

	ConfigVersion int       `json:"-" db:"config_version"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Ended reports whether a candidate occurrence date falls past the rule's
// end date. Rules without an end date never end.
func (r *RecurringRule) Ended(candidate time.Time) bool {
	return r.EndDate != nil && candidate.After(*r.EndDate)
}

// Occurrence is a single materialized transaction produced from a rule.
// The (RuleID, OccurredOn) pair is unique; re-running catch-up for a period
// that already materialized is a no-op at the storage layer.
type Occurrence struct {
	ID         string          `json:"id" db:"id"`
	RuleID     string          `json:"rule_id" db:"rule_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	OccurredOn time.Time       `json:"occurred_on" db:"occurred_on"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   string          `json:"currency" db:"currency"`
	Kind       TransactionKind `json:"kind" db:"kind"`
	Category   string          `json:"category" db:"category"`
	Note       string          `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// ============================================================
// Catch-up results
// ============================================================

// CatchUpResult reports the outcome of one catch-up walk over a single rule.
type CatchUpResult struct {
	RuleID            string   `json:"rule_id"`
	MaterializedCount int      `json:"materialized_count"`
	Errors            []string `json:"errors,omitempty"`
}

// Failed reports whether the walk recorded any errors.
func (r CatchUpResult) Failed() bool { return len(r.Errors) > 0 }

// SweepResult aggregates catch-up outcomes across the rules touched by one
// batch entry point -- a periodic sweep or a user-triggered catch-up.
// Per-rule failures are collected here, never propagated.
type SweepResult struct {
	RulesProcessed    int             `json:"rules_processed"`
	MaterializedTotal int             `json:"materialized_total"`
	Failures          []CatchUpResult `json:"failures,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
}

// ============================================================
// Delivery
// ============================================================

// Notification is a rendered notice ready for channel formatting. Amounts
// are pre-formatted in the user's display currency by the dispatcher.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      NoticeKind `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	RuleID    string     `json:"rule_id,omitempty"`
	RuleName  string     `json:"rule_name,omitempty"`
	Amount    string     `json:"amount,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// Extra carries kind-specific template data (digest line items,
	// reminder horizons) without widening this struct per kind.
	Extra map[string]any `json:"extra,omitempty"`
}

// DeliveryResult is returned by a channel after one delivery attempt.
type DeliveryResult struct {
	ProviderMessageID string
	Status            DeliveryStatus
	FailureReason     string
	Retryable         bool
}

// ============================================================
// Scheduled jobs
// ============================================================

// JobRun is one row of the job_history table.
type JobRun struct {
	ID         int64      `json:"id" db:"id"`
	JobType    string     `json:"job_type" db:"job_type"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     string     `json:"status" db:"status"`
	ItemsCount int        `json:"items_count" db:"items_count"`
	Error      string     `json:"error,omitempty" db:"error"`
}
