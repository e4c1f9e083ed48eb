package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpulse/internal/notifications/digest"
	"finpulse/internal/types"
)

// testNotification creates a standard due-today notification for testing.
func testNotification() *types.Notification {
	due := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	return &types.Notification{
		ID:        "ntf_a1b2c3",
		UserID:    "usr_1",
		Kind:      types.NoticeOccurrenceDue,
		Title:     "Netflix due today",
		Body:      "Netflix ($15.99) is due today.",
		RuleID:    "rule_netflix",
		RuleName:  "Netflix",
		Amount:    "$15.99",
		DueDate:   &due,
		CreatedAt: time.Date(2024, 4, 15, 10, 30, 0, 0, time.UTC),
	}
}

// digestTestNotification creates a catch-up digest notification carrying
// structured line items.
func digestTestNotification(dates []string, remaining int) *types.Notification {
	return &types.Notification{
		ID:        "ntf_digest1",
		UserID:    "usr_1",
		Kind:      types.NoticeCatchUpDigest,
		Title:     "Rent: 7 occurrences recorded",
		Body:      "7 occurrences of Rent from Oct 31 to Apr 30, 2024 were recorded while catching up (total $10,500.00).",
		RuleID:    "rule_rent",
		RuleName:  "Rent",
		Amount:    "$10,500.00",
		CreatedAt: time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC),
		Extra: map[string]any{
			"digest": digest.Content{
				RuleID:         "rule_rent",
				RuleName:       "Rent",
				Count:          len(dates) + remaining,
				Total:          "$10,500.00",
				Dates:          dates,
				RemainingCount: remaining,
			},
		},
	}
}

// --- Slack Formatter Tests ---

func TestSlackFormatter_Format_BasicStructure(t *testing.T) {
	f := &SlackFormatter{}
	n := testNotification()

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var payload SlackPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	// Fallback text mirrors the title.
	assert.Equal(t, "Netflix due today", payload.Text)

	// Header, body, fields, context footer.
	require.True(t, len(payload.Blocks) >= 3, "should have header + body + fields + context blocks")

	assert.Equal(t, "header", payload.Blocks[0].Type)
	require.NotNil(t, payload.Blocks[0].Text)
	assert.Equal(t, "plain_text", payload.Blocks[0].Text.Type)
	assert.Equal(t, "Netflix due today", payload.Blocks[0].Text.Text)

	assert.Equal(t, "section", payload.Blocks[1].Type)
	require.NotNil(t, payload.Blocks[1].Text)
	assert.Equal(t, "mrkdwn", payload.Blocks[1].Text.Type)
	assert.Equal(t, "Netflix ($15.99) is due today.", payload.Blocks[1].Text.Text)
}

func TestSlackFormatter_Format_FieldsIncluded(t *testing.T) {
	f := &SlackFormatter{}
	n := testNotification()

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload SlackPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	var fieldsBlock *SlackBlock
	for i, block := range payload.Blocks {
		if block.Type == "section" && len(block.Fields) > 0 {
			fieldsBlock = &payload.Blocks[i]
			break
		}
	}

	require.NotNil(t, fieldsBlock, "should have a section block with fields")
	require.Len(t, fieldsBlock.Fields, 3, "should have rule, amount, and due fields")

	assert.Contains(t, fieldsBlock.Fields[0].Text, "*Rule*\nNetflix")
	assert.Contains(t, fieldsBlock.Fields[1].Text, "*Amount*\n$15.99")
	assert.Contains(t, fieldsBlock.Fields[2].Text, "*Due*\nApr 15, 2024")
}

func TestSlackFormatter_Format_DigestLineItems(t *testing.T) {
	f := &SlackFormatter{}
	n := digestTestNotification([]string{
		"2023-10-31", "2023-11-30", "2023-12-31", "2024-01-31",
		"2024-02-29", "2024-03-31", "2024-04-30",
	}, 0)

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload SlackPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	// Collect bullet-point line sections and the overflow footer.
	var lines []string
	var overflow string
	for _, block := range payload.Blocks {
		if block.Type == "section" && block.Text != nil && strings.HasPrefix(block.Text.Text, "• ") {
			lines = append(lines, block.Text.Text)
		}
		if block.Type == "context" && len(block.Elements) > 0 && strings.HasPrefix(block.Elements[0].Text, "...and") {
			overflow = block.Elements[0].Text
		}
	}

	require.Len(t, lines, maxSlackLineItems, "line items should be capped")
	assert.Equal(t, "• Oct 31, 2023", lines[0])
	assert.Equal(t, "• Feb 29, 2024", lines[4])
	assert.Equal(t, "...and 2 more occurrences.", overflow)
}

func TestSlackFormatter_Format_DigestOverflowAccountsForGeneratorTruncation(t *testing.T) {
	f := &SlackFormatter{}
	// The generator already trimmed the list and reported 4 more; the Slack
	// cap removes another 5, so the footer shows 9.
	n := digestTestNotification([]string{
		"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04", "2024-03-05",
		"2024-03-06", "2024-03-07", "2024-03-08", "2024-03-09", "2024-03-10",
	}, 4)

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload SlackPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	var overflow string
	for _, block := range payload.Blocks {
		if block.Type == "context" && len(block.Elements) > 0 && strings.HasPrefix(block.Elements[0].Text, "...and") {
			overflow = block.Elements[0].Text
		}
	}
	assert.Equal(t, "...and 9 more occurrences.", overflow, "overflow footer should sum local and generator truncation")
}

func TestSlackFormatter_Format_ContextFooter(t *testing.T) {
	f := &SlackFormatter{}
	n := testNotification()

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload SlackPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	lastBlock := payload.Blocks[len(payload.Blocks)-1]
	assert.Equal(t, "context", lastBlock.Type)
	require.NotEmpty(t, lastBlock.Elements)
	assert.Equal(t, "FinPulse | occurrence_due", lastBlock.Elements[0].Text)
}

func TestSlackFormatter_Format_NilNotification(t *testing.T) {
	f := &SlackFormatter{}
	_, err := f.Format(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestSlackFormatter_ValidateResponse(t *testing.T) {
	f := &SlackFormatter{}

	tests := []struct {
		name       string
		statusCode int
		body       []byte
		wantErr    bool
		errMsg     string
	}{
		{
			name:       "success - ok text",
			statusCode: 200,
			body:       []byte("ok"),
			wantErr:    false,
		},
		{
			name:       "soft failure - no_text",
			statusCode: 200,
			body:       []byte("no_text"),
			wantErr:    true,
			errMsg:     "no_text",
		},
		{
			name:       "soft failure - channel_not_found",
			statusCode: 200,
			body:       []byte("channel_not_found"),
			wantErr:    true,
			errMsg:     "channel_not_found",
		},
		{
			name:       "soft failure - JSON ok false",
			statusCode: 200,
			body:       []byte(`{"ok":false,"error":"invalid_token"}`),
			wantErr:    true,
			errMsg:     "invalid_token",
		},
		{
			name:       "HTTP error status",
			statusCode: 500,
			body:       []byte("internal error"),
			wantErr:    true,
		},
		{
			name:       "JSON ok true",
			statusCode: 200,
			body:       []byte(`{"ok":true}`),
			wantErr:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ValidateResponse(tt.statusCode, tt.body)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- Discord Formatter Tests ---

func TestDiscordFormatter_Format_EmbedStructure(t *testing.T) {
	f := &DiscordFormatter{}
	n := testNotification()

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload DiscordPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	assert.Equal(t, "FinPulse", payload.Username)
	assert.Equal(t, "Netflix due today", payload.Content)
	require.Len(t, payload.Embeds, 1)

	embed := payload.Embeds[0]
	assert.Equal(t, "Netflix due today", embed.Title)
	assert.Equal(t, "Netflix ($15.99) is due today.", embed.Description)
	assert.Equal(t, colorDue, embed.Color)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "FinPulse | occurrence_due", embed.Footer.Text)

	require.Len(t, embed.Fields, 3)
	assert.Equal(t, DiscordField{Name: "Rule", Value: "Netflix", Inline: true}, embed.Fields[0])
	assert.Equal(t, DiscordField{Name: "Amount", Value: "$15.99", Inline: true}, embed.Fields[1])
	assert.Equal(t, DiscordField{Name: "Due", Value: "Apr 15, 2024", Inline: true}, embed.Fields[2])
}

func TestDiscordFormatter_Format_KindColors(t *testing.T) {
	f := &DiscordFormatter{}

	tests := []struct {
		kind      types.NoticeKind
		wantColor int
	}{
		{types.NoticeOccurrenceDue, colorDue},
		{types.NoticeOccurrenceProcessed, colorProcessed},
		{types.NoticeUpcomingReminder, colorReminder},
		{types.NoticeCatchUpDigest, colorDigest},
		{types.NoticeSystemAlert, colorAlert},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			n := testNotification()
			n.Kind = tt.kind

			data, err := f.Format(context.Background(), n, nil)
			require.NoError(t, err)

			var payload DiscordPayload
			err = json.Unmarshal(data, &payload)
			require.NoError(t, err)

			require.Len(t, payload.Embeds, 1)
			assert.Equal(t, tt.wantColor, payload.Embeds[0].Color)
		})
	}
}

func TestDiscordFormatter_Format_DigestFields(t *testing.T) {
	f := &DiscordFormatter{}
	n := digestTestNotification([]string{"2024-01-31", "2024-02-29", "2024-03-31"}, 0)
	n.Amount = "$4,500.00"
	n.Extra["digest"] = digest.Content{
		RuleID:   "rule_rent",
		RuleName: "Rent",
		Count:    3,
		Total:    "$4,500.00",
		Dates:    []string{"2024-01-31", "2024-02-29", "2024-03-31"},
	}

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload DiscordPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	require.Len(t, payload.Embeds, 1)
	fieldMap := make(map[string]string)
	for _, field := range payload.Embeds[0].Fields {
		fieldMap[field.Name] = field.Value
	}

	assert.Equal(t, "3", fieldMap["Occurrences"])
	assert.Equal(t, "$4,500.00", fieldMap["Total"])
}

func TestDiscordFormatter_Format_NilNotification(t *testing.T) {
	f := &DiscordFormatter{}
	_, err := f.Format(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestDiscordFormatter_ValidateResponse(t *testing.T) {
	f := &DiscordFormatter{}

	assert.NoError(t, f.ValidateResponse(204, []byte("")))
	assert.NoError(t, f.ValidateResponse(200, []byte("ok")))

	err := f.ValidateResponse(400, []byte(`{"message":"Invalid Webhook Token"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Webhook Token")

	assert.Error(t, f.ValidateResponse(500, []byte("internal error")))
}

// --- Generic Formatter Tests ---

func TestGenericFormatter_Format_StableContract(t *testing.T) {
	f := &GenericFormatter{}
	n := testNotification()

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var payload GenericPayload
	err = json.Unmarshal(data, &payload)
	require.NoError(t, err)

	assert.Equal(t, "occurrence_due", payload.Event)
	assert.Equal(t, "ntf_a1b2c3", payload.NotificationID)
	assert.Equal(t, "usr_1", payload.UserID)
	assert.Equal(t, "Netflix due today", payload.Title)
	assert.Equal(t, "Netflix ($15.99) is due today.", payload.Body)
	assert.Equal(t, "rule_netflix", payload.RuleID)
	assert.Equal(t, "Netflix", payload.RuleName)
	assert.Equal(t, "$15.99", payload.Amount)
	assert.Equal(t, "2024-04-15", payload.DueDate)
	assert.True(t, payload.CreatedAt.Equal(n.CreatedAt), "created_at should round-trip")
}

func TestGenericFormatter_Format_OmitsAbsentFields(t *testing.T) {
	f := &GenericFormatter{}
	n := &types.Notification{
		ID:        "ntf_min",
		UserID:    "usr_1",
		Kind:      types.NoticeSystemAlert,
		Title:     "Catch-up failed",
		Body:      "3 rules could not be processed.",
		CreatedAt: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC),
	}

	data, err := f.Format(context.Background(), n, nil)
	require.NoError(t, err)

	var raw map[string]any
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	assert.NotContains(t, raw, "rule_id")
	assert.NotContains(t, raw, "amount")
	assert.NotContains(t, raw, "due_date")
	assert.NotContains(t, raw, "extra")
}

func TestGenericFormatter_Format_NilNotification(t *testing.T) {
	f := &GenericFormatter{}
	_, err := f.Format(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestGenericFormatter_ValidateResponse(t *testing.T) {
	f := &GenericFormatter{}

	assert.NoError(t, f.ValidateResponse(200, []byte("ok")))
	assert.NoError(t, f.ValidateResponse(204, []byte("")))
	assert.Error(t, f.ValidateResponse(400, []byte("bad request")))
	assert.Error(t, f.ValidateResponse(500, []byte("error")))
}

// --- Cross-Formatter Tests ---

func TestAllFormatters_HandleMinimalNotification(t *testing.T) {
	// All formatters must handle a notification with only the required
	// fields set.
	n := &types.Notification{
		ID:        "ntf_min",
		UserID:    "usr_min",
		Kind:      types.NoticeSystemAlert,
		Title:     "Catch-up failed",
		Body:      "",
		CreatedAt: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC),
	}

	formatters := []PlatformFormatter{
		&SlackFormatter{},
		&DiscordFormatter{},
		&GenericFormatter{},
	}

	for _, f := range formatters {
		t.Run(string(f.Platform()), func(t *testing.T) {
			data, err := f.Format(context.Background(), n, nil)
			require.NoError(t, err, "formatter %s should handle minimal notification", f.Platform())
			require.NotEmpty(t, data)

			var raw map[string]any
			err = json.Unmarshal(data, &raw)
			assert.NoError(t, err, "output should be valid JSON for %s", f.Platform())
		})
	}
}
