package types

// NotificationPreferences contains user-level notification settings, stored
// as JSONB on the users row.
type NotificationPreferences struct {
	QuietHours *QuietHoursConfig `json:"quiet_hours,omitempty"`
	Reminders  *ReminderConfig   `json:"reminders,omitempty"`
	Digest     *DigestConfig     `json:"digest,omitempty"`
}

// QuietHoursConfig defines when notifications should be deferred.
type QuietHoursConfig struct {
	Enabled  bool          `json:"enabled"`
	Schedule []QuietPeriod `json:"schedule"`
	Timezone string        `json:"timezone"`
}

// QuietPeriod defines a recurring quiet window. Start and End are "HH:MM"
// in the config timezone; a period with End before Start spans midnight.
type QuietPeriod struct {
	Days  []string `json:"days"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// ReminderConfig controls upcoming-occurrence reminders.
type ReminderConfig struct {
	Enabled   bool `json:"enabled"`
	DaysAhead int  `json:"days_ahead"`
}

// DigestConfig controls catch-up digest consolidation. When a single walk
// materializes more than Threshold occurrences for a user, the per-occurrence
// notices are replaced by one digest summary.
type DigestConfig struct {
	Enabled   bool `json:"enabled"`
	Threshold int  `json:"threshold"`
}
