package email

import (
	"encoding/json"
	"fmt"
	"time"
)

// sendGridEvent is one element of the JSON array SendGrid's Event Webhook
// posts. Only the fields the engine consumes are declared; reference_id is
// the custom arg set at send time and echoed back verbatim.
type sendGridEvent struct {
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
	Event       string `json:"event"`
	Type        string `json:"type"` // bounce classification: "bounce" or "blocked"
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	SGMessageID string `json:"sg_message_id"`
	ReferenceID string `json:"reference_id"`
}

// ParseEventBatch decodes a SendGrid Event Webhook body into the events
// that affect channel health. Delivery confirmations, opens, clicks and
// deferrals are dropped; SendGrid keeps retrying deferrals on its own.
// "blocked" bounces are dropped too -- they describe a temporary refusal
// at the receiving server, not a dead address.
//
// The webhook posts batches, so one body can yield events for many
// addresses.
func ParseEventBatch(body []byte) ([]BounceEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("event webhook: empty body")
	}

	var raw []sendGridEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("event webhook: failed to parse body: %w", err)
	}

	var events []BounceEvent
	for _, ev := range raw {
		var kind FeedbackType
		switch ev.Event {
		case "bounce":
			if ev.Type == "blocked" {
				continue
			}
			kind = FeedbackBounce
		case "dropped":
			// SendGrid refused to send at all (suppression list, invalid
			// address). Counts against the channel like a bounce.
			kind = FeedbackBounce
		case "spamreport":
			kind = FeedbackComplaint
		default:
			continue
		}

		if ev.Email == "" {
			continue
		}

		reason := ev.Reason
		if reason == "" {
			reason = ev.Status
		}
		if reason == "" {
			reason = ev.Event
		}

		events = append(events, BounceEvent{
			ProviderMessageID: ev.SGMessageID,
			ReferenceID:       ev.ReferenceID,
			EmailAddress:      ev.Email,
			Reason:            reason,
			Type:              kind,
			Timestamp:         eventTime(ev.Timestamp),
		})
	}

	return events, nil
}

// eventTime converts a webhook unix timestamp, falling back to now for
// missing values so downstream code never sees the zero time.
func eventTime(unix int64) time.Time {
	if unix <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}
