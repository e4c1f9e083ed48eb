package telegram

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"finpulse/internal/notifications/digest"
	"finpulse/internal/types"
)

// maxLineItems caps digest occurrence lines per message.
const maxLineItems = 8

// maxMessageLength is the Bot API limit on message text.
const maxMessageLength = 4096

// renderMarkdown builds the message body in Telegram's legacy Markdown mode:
// bold title, plain body, then either digest line items or amount/due detail
// lines.
func renderMarkdown(n *types.Notification) string {
	var b strings.Builder

	b.WriteString("*")
	b.WriteString(escapeMarkdown(n.Title))
	b.WriteString("*")

	if n.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdown(n.Body))
	}

	if content, ok := digest.FromExtra(n.Extra); ok && len(content.Dates) > 0 {
		writeDigestLines(&b, content)
	} else {
		writeDetailLines(&b, n)
	}

	return clampMessage(b.String())
}

// writeDetailLines appends the amount and due-date lines. The body already
// names the rule, so there is no separate rule line.
func writeDetailLines(b *strings.Builder, n *types.Notification) {
	if n.Amount == "" && n.DueDate == nil {
		return
	}

	b.WriteString("\n")
	if n.Amount != "" {
		b.WriteString("\n*Amount:* ")
		b.WriteString(escapeMarkdown(n.Amount))
	}
	if n.DueDate != nil {
		b.WriteString("\n*Due:* ")
		b.WriteString(n.DueDate.Format("Jan 2, 2006"))
	}
}

// writeDigestLines appends one bullet per summarized occurrence date, a
// remainder line when the list was truncated, and the summed total. The
// remainder accounts for both the generator's truncation and our own.
func writeDigestLines(b *strings.Builder, content digest.Content) {
	dates := content.Dates
	remaining := content.RemainingCount
	if len(dates) > maxLineItems {
		remaining += len(dates) - maxLineItems
		dates = dates[:maxLineItems]
	}

	b.WriteString("\n")
	for _, date := range dates {
		b.WriteString("\n• ")
		b.WriteString(formatLineDate(date))
	}
	if remaining > 0 {
		fmt.Fprintf(b, "\n...and %d more occurrences.", remaining)
	}
	if content.Total != "" {
		b.WriteString("\n\n*Total:* ")
		b.WriteString(escapeMarkdown(content.Total))
	}
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

// escapeMarkdown escapes user-controlled text for legacy Markdown mode.
func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// clampMessage truncates oversized text. The Bot API rejects messages longer
// than 4096 characters outright.
func clampMessage(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxMessageLength-3]) + "..."
}
