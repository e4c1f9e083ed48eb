package webhook

import (
	"time"

	"finpulse/internal/notifications/digest"
	"finpulse/internal/types"
)

// truncateBody caps a response body for inclusion in failure reasons.
func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}

// formatDueDate renders a due date for display, e.g. "Apr 15, 2024".
func formatDueDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("Jan 2, 2006")
}

// formatLineDate renders one digest line-item date for display. Dates arrive
// as "2006-01-02" strings; unparseable values pass through unchanged.
func formatLineDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Jan 2, 2006")
}

// digestContent extracts the structured digest summary a catch-up digest
// notification carries, if any.
func digestContent(n *types.Notification) (digest.Content, bool) {
	return digest.FromExtra(n.Extra)
}
