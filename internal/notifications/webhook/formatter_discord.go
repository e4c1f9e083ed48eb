package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"finpulse/internal/types"
)

// Discord color codes per notice kind (decimal color values).
const (
	colorProcessed = 0x2196F3 // Blue
	colorDue       = 0xFFC107 // Amber
	colorReminder  = 0xFF9800 // Orange
	colorDigest    = 0x4CAF50 // Green
	colorAlert     = 0xF44336 // Red
)

// DiscordFormatter formats notifications as Discord webhook JSON with embeds.
type DiscordFormatter struct{}

// Platform returns the platform identifier.
func (f *DiscordFormatter) Platform() Platform {
	return PlatformDiscord
}

// Format transforms a Notification into Discord webhook JSON.
func (f *DiscordFormatter) Format(_ context.Context, n *types.Notification, _ map[string]any) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("discord formatter: notification is nil")
	}

	embed := DiscordEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       kindColor(n.Kind),
		Fields:      buildDiscordFields(n),
		Footer: &DiscordFooter{
			Text: fmt.Sprintf("FinPulse | %s", string(n.Kind)),
		},
	}

	payload := DiscordPayload{
		Username:  "FinPulse",
		AvatarURL: "",
		Content:   n.Title,
		Embeds:    []DiscordEmbed{embed},
	}

	return json.Marshal(payload)
}

// ValidateResponse checks the Discord webhook response. Discord returns 204
// No Content on success for webhook messages.
func (f *DiscordFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	// Check for Discord-specific error responses.
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err == nil {
		if msg, ok := resp["message"].(string); ok {
			return fmt.Errorf("discord: API error: %s", msg)
		}
	}

	return fmt.Errorf("discord: unexpected status %d: %s", statusCode, truncateBody(body))
}

// kindColor returns the Discord embed color for a notice kind.
func kindColor(kind types.NoticeKind) int {
	switch kind {
	case types.NoticeSystemAlert:
		return colorAlert
	case types.NoticeOccurrenceDue:
		return colorDue
	case types.NoticeUpcomingReminder:
		return colorReminder
	case types.NoticeCatchUpDigest:
		return colorDigest
	default:
		return colorProcessed
	}
}

// buildDiscordFields creates embed fields from notification details.
func buildDiscordFields(n *types.Notification) []DiscordField {
	var fields []DiscordField

	if n.RuleName != "" {
		fields = append(fields, DiscordField{Name: "Rule", Value: n.RuleName, Inline: true})
	}
	if n.Amount != "" {
		fields = append(fields, DiscordField{Name: "Amount", Value: n.Amount, Inline: true})
	}
	if due := formatDueDate(n.DueDate); due != "" {
		fields = append(fields, DiscordField{Name: "Due", Value: due, Inline: true})
	}

	if content, ok := digestContent(n); ok && content.Count > 0 {
		fields = append(fields, DiscordField{Name: "Occurrences", Value: fmt.Sprintf("%d", content.Count), Inline: true})
		fields = append(fields, DiscordField{Name: "Total", Value: content.Total, Inline: true})
	}

	return fields
}
