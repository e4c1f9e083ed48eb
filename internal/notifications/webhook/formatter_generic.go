package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finpulse/internal/types"
)

// GenericFormatter outputs the notification as a stable JSON envelope,
// the contract downstream consumers integrate against.
//
// This is the default formatter for webhook URLs that do not match any
// known platform pattern.
type GenericFormatter struct{}

// Platform returns the platform identifier.
func (f *GenericFormatter) Platform() Platform {
	return PlatformGeneric
}

// GenericPayload is the standard webhook payload envelope for generic endpoints.
type GenericPayload struct {
	Event          string         `json:"event"`
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	RuleID         string         `json:"rule_id,omitempty"`
	RuleName       string         `json:"rule_name,omitempty"`
	Amount         string         `json:"amount,omitempty"`
	DueDate        string         `json:"due_date,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Format transforms a Notification into generic JSON.
func (f *GenericFormatter) Format(_ context.Context, n *types.Notification, _ map[string]any) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("generic formatter: notification is nil")
	}

	payload := GenericPayload{
		Event:          string(n.Kind),
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Body:           n.Body,
		RuleID:         n.RuleID,
		RuleName:       n.RuleName,
		Amount:         n.Amount,
		CreatedAt:      n.CreatedAt,
		Extra:          n.Extra,
	}
	if n.DueDate != nil {
		payload.DueDate = n.DueDate.Format("2006-01-02")
	}

	return json.Marshal(payload)
}

// ValidateResponse for generic webhooks simply checks the HTTP status code.
// Generic webhooks have no platform-specific "soft failure" patterns.
func (f *GenericFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("generic webhook: unexpected status %d: %s", statusCode, truncateBody(body))
}
