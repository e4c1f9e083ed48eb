package webhook

import (
	"context"
	"time"

	"finpulse/internal/types"
)

// Platform identifies a webhook destination platform.
type Platform string

const (
	// PlatformGeneric is the default platform for unknown webhook URLs.
	PlatformGeneric Platform = "generic"

	// PlatformSlack represents Slack incoming webhooks.
	PlatformSlack Platform = "slack"

	// PlatformDiscord represents Discord webhook endpoints.
	PlatformDiscord Platform = "discord"
)

// PlatformFormatter transforms a Notification into platform-specific JSON.
type PlatformFormatter interface {
	// Format transforms the notification into the platform-specific JSON payload.
	Format(ctx context.Context, n *types.Notification, config map[string]any) ([]byte, error)

	// Platform returns the enum identifier for logs and metrics.
	Platform() Platform

	// ValidateResponse interprets the HTTP response body to catch "soft failures"
	// (e.g., Slack returning HTTP 200 with "ok": false).
	ValidateResponse(statusCode int, body []byte) error
}

// Signer produces the value for the X-FinPulse-Signature header. Declared
// here so channel tests can substitute a stub.
type Signer interface {
	SignPayload(payload []byte, secretConfig map[string]any, now time.Time) (string, error)
}

// --- Slack payload types (Block Kit) ---

// SlackPayload is the top-level structure for Slack Block Kit messages.
type SlackPayload struct {
	Text   string       `json:"text"`   // Fallback text for push notifications
	Blocks []SlackBlock `json:"blocks"` // Rich layout
}

// SlackBlock represents a single block in a Slack Block Kit message.
type SlackBlock struct {
	Type     string       `json:"type"`               // "section", "header", "context"
	Text     *SlackText   `json:"text,omitempty"`     // Primary text element
	Fields   []*SlackText `json:"fields,omitempty"`   // Multi-column fields
	Elements []*SlackText `json:"elements,omitempty"` // Context elements
}

// SlackText is a text composition object for Slack Block Kit.
type SlackText struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// --- Discord payload types (embeds) ---

// DiscordPayload is the top-level structure for Discord webhook messages.
type DiscordPayload struct {
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url"`
	Content   string         `json:"content"` // Fallback/ping text
	Embeds    []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents an embed in a Discord webhook message.
type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"` // Decimal color code
	Fields      []DiscordField `json:"fields"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField is a field within a Discord embed.
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter is the footer of a Discord embed.
type DiscordFooter struct {
	Text string `json:"text"`
}
