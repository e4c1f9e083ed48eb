package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"finpulse/internal/types"
)

// maxSlackLineItems is the maximum number of digest occurrence lines to
// include in a Slack message. Excess lines are summarized in a footer.
const maxSlackLineItems = 5

// SlackFormatter formats notifications as Slack Block Kit JSON.
type SlackFormatter struct{}

// Platform returns the platform identifier.
func (f *SlackFormatter) Platform() Platform {
	return PlatformSlack
}

// Format transforms a Notification into Slack Block Kit JSON.
func (f *SlackFormatter) Format(_ context.Context, n *types.Notification, _ map[string]any) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("slack formatter: notification is nil")
	}

	payload := SlackPayload{
		Text: n.Title,
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{
					Type: "plain_text",
					Text: n.Title,
				},
			},
		},
	}

	if n.Body != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: n.Body,
			},
		})
	}

	// Add detail fields.
	fields := buildSlackFields(n)
	if len(fields) > 0 {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type:   "section",
			Fields: fields,
		})
	}

	// Add digest occurrence lines if present.
	if content, ok := digestContent(n); ok && len(content.Dates) > 0 {
		dates := content.Dates
		remaining := content.RemainingCount
		if len(dates) > maxSlackLineItems {
			remaining += len(dates) - maxSlackLineItems
			dates = dates[:maxSlackLineItems]
		}

		for _, date := range dates {
			payload.Blocks = append(payload.Blocks, SlackBlock{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("• %s", formatLineDate(date)),
				},
			})
		}

		if remaining > 0 {
			payload.Blocks = append(payload.Blocks, SlackBlock{
				Type: "context",
				Elements: []*SlackText{
					{
						Type: "mrkdwn",
						Text: fmt.Sprintf("...and %d more occurrences.", remaining),
					},
				},
			})
		}
	}

	// Context footer with the notice kind.
	payload.Blocks = append(payload.Blocks, SlackBlock{
		Type: "context",
		Elements: []*SlackText{
			{
				Type: "mrkdwn",
				Text: fmt.Sprintf("FinPulse | %s", string(n.Kind)),
			},
		},
	})

	return json.Marshal(payload)
}

// ValidateResponse checks for Slack's "soft failure" pattern where the API
// returns HTTP 200 but the body indicates an error (e.g., "ok": false or
// a plain text error message).
func (f *SlackFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("slack: unexpected status %d", statusCode)
	}

	bodyStr := strings.TrimSpace(string(body))

	// Slack incoming webhooks return "ok" as plain text on success.
	if bodyStr == "ok" {
		return nil
	}

	// Check for JSON response with "ok": false.
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err == nil {
		if ok, exists := resp["ok"]; exists {
			if okBool, isBool := ok.(bool); isBool && !okBool {
				errMsg := "unknown error"
				if e, exists := resp["error"]; exists {
					if eStr, isStr := e.(string); isStr {
						errMsg = eStr
					}
				}
				return fmt.Errorf("slack: API error: %s", errMsg)
			}
		}
	}

	// Check for common plain-text error responses.
	knownErrors := []string{
		"no_text",
		"channel_not_found",
		"channel_is_archived",
		"invalid_payload",
		"too_many_attachments",
	}
	for _, known := range knownErrors {
		if bodyStr == known {
			return fmt.Errorf("slack: API error: %s", bodyStr)
		}
	}

	return nil
}

// buildSlackFields creates field pairs from notification data.
func buildSlackFields(n *types.Notification) []*SlackText {
	var fields []*SlackText

	if n.RuleName != "" {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*Rule*\n%s", n.RuleName)})
	}
	if n.Amount != "" {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*Amount*\n%s", n.Amount)})
	}
	if due := formatDueDate(n.DueDate); due != "" {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*Due*\n%s", due)})
	}

	return fields
}
