// Package digest collapses catch-up backfill bursts into summary notices.
// When one run materializes many occurrences for a rule after an offline
// period, sending each as its own notification floods the delivery queue;
// the digest replaces them with a single count/span/total summary.
package digest

import "time"

// FromExtra retrieves the digest summary a generator attached to a
// notification's Extra data. The second return is false when the
// notification does not carry one.
func FromExtra(extra map[string]any) (Content, bool) {
	if extra == nil {
		return Content{}, false
	}
	content, ok := extra["digest"].(Content)
	return content, ok
}

// Content is the structured summary attached to a digest notification's
// Extra data, for channel formatters that render line items.
type Content struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Count    int    `json:"count"`

	// PeriodStart/PeriodEnd bound the occurrence dates summarized.
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// Total is the summed amount, already converted and formatted in the
	// user's display currency.
	Total string `json:"total"`

	// Dates lists occurrence dates oldest first, truncated at maxLineItems.
	// RemainingCount is set when the list was truncated.
	Dates          []string `json:"dates"`
	RemainingCount int      `json:"remaining_count,omitempty"`
}
