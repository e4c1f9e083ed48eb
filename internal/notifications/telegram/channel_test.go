package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"finpulse/internal/types"
)

// --- Test Helpers ---

// mockLogger is a no-op logger for testing.
type mockLogger struct{}

func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) With(args ...any) types.Logger { return m }

// stubBot records sent messages and replays scripted results. Sends beyond
// the script succeed with message ID 42.
type stubBot struct {
	sent    []tgbotapi.MessageConfig
	results []stubResult
}

type stubResult struct {
	msg tgbotapi.Message
	err error
}

func (s *stubBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable type")
	}
	s.sent = append(s.sent, msg)

	if len(s.sent) <= len(s.results) {
		r := s.results[len(s.sent)-1]
		return r.msg, r.err
	}
	return tgbotapi.Message{MessageID: 42}, nil
}

var _ botSender = (*stubBot)(nil)

func newTestChannel(bot *stubBot) *TelegramChannel {
	return NewTelegramChannelWithBot(bot, &mockLogger{})
}

func chatConfig(chatID any) map[string]any {
	return map[string]any{"chat_id": chatID}
}

// --- Constructor Tests ---

func TestNewTelegramChannel_NilConfig(t *testing.T) {
	_, err := NewTelegramChannel(nil, &mockLogger{})
	if err == nil {
		t.Fatal("expected error for nil config")
	}
	if !strings.Contains(err.Error(), "config is nil") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestType(t *testing.T) {
	ch := newTestChannel(&stubBot{})
	if ch.Type() != types.ChannelTelegram {
		t.Errorf("expected channel type %q, got %q", types.ChannelTelegram, ch.Type())
	}
}

// --- ValidateConfig ---

func TestValidateConfig(t *testing.T) {
	ch := newTestChannel(&stubBot{})

	tests := []struct {
		name    string
		cfg     map[string]any
		wantErr bool
	}{
		{"missing chat_id", map[string]any{}, true},
		{"empty string", chatConfig(""), true},
		{"non-numeric string", chatConfig("not-a-number"), true},
		{"wrong type", chatConfig(true), true},
		{"numeric string", chatConfig("123456789"), false},
		{"json number", chatConfig(float64(123456789)), false},
		{"native int64", chatConfig(int64(123456789)), false},
		{"negative group id", chatConfig("-1001234567890"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ch.ValidateConfig(tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// --- Format ---

func TestFormat_NilNotification(t *testing.T) {
	ch := newTestChannel(&stubBot{})
	if _, err := ch.Format(context.Background(), nil, chatConfig("1")); err == nil {
		t.Fatal("expected error for nil notification")
	}
}

func TestFormat_RendersMarkdown(t *testing.T) {
	ch := newTestChannel(&stubBot{})

	payload, err := ch.Format(context.Background(), testNotification(), chatConfig("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(payload), "*Netflix due today*") {
		t.Errorf("expected bold title, got: %s", payload)
	}
}

// --- Deliver: Success ---

func TestDeliver_Success(t *testing.T) {
	bot := &stubBot{}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("*Netflix due today*"), chatConfig(float64(123456789)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != types.DeliveryStatusSent {
		t.Errorf("expected status %q, got %q", types.DeliveryStatusSent, result.Status)
	}
	if result.ProviderMessageID != "42" {
		t.Errorf("expected provider_msg_id '42', got %q", result.ProviderMessageID)
	}
	if result.Retryable {
		t.Error("expected non-retryable for success")
	}

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 123456789 {
		t.Errorf("expected chat_id 123456789, got %d", msg.ChatID)
	}
	if msg.Text != "*Netflix due today*" {
		t.Errorf("unexpected text: %q", msg.Text)
	}
	if msg.ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("expected Markdown parse mode, got %q", msg.ParseMode)
	}
	if !msg.DisableWebPagePreview {
		t.Error("expected web page preview disabled")
	}
}

// --- Deliver: Config Errors ---

func TestDeliver_InvalidChatConfig(t *testing.T) {
	bot := &stubBot{}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("hi"), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Retryable {
		t.Error("expected non-retryable for missing chat_id")
	}
	if !strings.Contains(result.FailureReason, "invalid_chat") {
		t.Errorf("unexpected failure reason: %q", result.FailureReason)
	}
	if len(bot.sent) != 0 {
		t.Errorf("expected no sends, got %d", len(bot.sent))
	}
}

func TestDeliver_ContextCanceled(t *testing.T) {
	bot := &stubBot{}
	ch := newTestChannel(bot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := ch.Deliver(ctx, []byte("hi"), chatConfig("1"))
	if err == nil {
		t.Fatal("expected context error")
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if len(bot.sent) != 0 {
		t.Errorf("expected no sends, got %d", len(bot.sent))
	}
}

// --- Deliver: API Errors ---

func TestDeliver_Throttled(t *testing.T) {
	bot := &stubBot{results: []stubResult{{
		err: &tgbotapi.Error{
			Code:               429,
			Message:            "Too Many Requests: retry after 30",
			ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 30},
		},
	}}}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("hi"), chatConfig("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Retryable {
		t.Error("expected retryable for 429")
	}
	if result.FailureReason != "throttled_429" {
		t.Errorf("expected failure reason 'throttled_429', got %q", result.FailureReason)
	}
}

func TestDeliver_ServerError_Retryable(t *testing.T) {
	bot := &stubBot{results: []stubResult{{
		err: &tgbotapi.Error{Code: 502, Message: "Bad Gateway"},
	}}}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("hi"), chatConfig("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Retryable {
		t.Error("expected retryable for 502")
	}
	if !strings.Contains(result.FailureReason, "server_error_502") {
		t.Errorf("unexpected failure reason: %q", result.FailureReason)
	}
}

func TestDeliver_DeadChat_Permanent(t *testing.T) {
	tests := []struct {
		name    string
		apiErr  *tgbotapi.Error
		wantTag string
	}{
		{
			"chat not found",
			&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"},
			"api_error_400",
		},
		{
			"bot blocked",
			&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"},
			"api_error_403",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &stubBot{results: []stubResult{{err: tt.apiErr}}}
			ch := newTestChannel(bot)

			result, err := ch.Deliver(context.Background(), []byte("hi"), chatConfig("1"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.Retryable {
				t.Error("expected non-retryable for dead chat")
			}
			if result.Status != types.DeliveryStatusFailed {
				t.Errorf("expected status %q, got %q", types.DeliveryStatusFailed, result.Status)
			}
			if !strings.Contains(result.FailureReason, tt.wantTag) {
				t.Errorf("unexpected failure reason: %q", result.FailureReason)
			}
		})
	}
}

func TestDeliver_NetworkError_Retryable(t *testing.T) {
	bot := &stubBot{results: []stubResult{{
		err: errors.New("dial tcp: connection refused"),
	}}}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("hi"), chatConfig("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Retryable {
		t.Error("expected retryable for network error")
	}
	if !strings.Contains(result.FailureReason, "network_error") {
		t.Errorf("unexpected failure reason: %q", result.FailureReason)
	}
}

// --- Deliver: Recovery Paths ---

func TestDeliver_ChatMigration(t *testing.T) {
	bot := &stubBot{results: []stubResult{
		{err: &tgbotapi.Error{
			Code:               400,
			Message:            "Bad Request: group chat was upgraded to a supergroup chat",
			ResponseParameters: tgbotapi.ResponseParameters{MigrateToChatID: -1009999},
		}},
		{msg: tgbotapi.Message{MessageID: 77}},
	}}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("hi"), chatConfig("123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != types.DeliveryStatusSent {
		t.Fatalf("expected sent after migration, got %q (%s)", result.Status, result.FailureReason)
	}
	if result.ProviderMessageID != "77" {
		t.Errorf("expected provider_msg_id '77', got %q", result.ProviderMessageID)
	}

	if len(bot.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 123 {
		t.Errorf("first send should target the original chat, got %d", bot.sent[0].ChatID)
	}
	if bot.sent[1].ChatID != -1009999 {
		t.Errorf("second send should target the migrated chat, got %d", bot.sent[1].ChatID)
	}
}

func TestDeliver_ChatMigration_ResendFails(t *testing.T) {
	bot := &stubBot{results: []stubResult{
		{err: &tgbotapi.Error{
			Code:               400,
			Message:            "Bad Request: group chat was upgraded to a supergroup chat",
			ResponseParameters: tgbotapi.ResponseParameters{MigrateToChatID: -1009999},
		}},
		{err: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked from the supergroup chat"}},
	}}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("hi"), chatConfig("123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Retryable {
		t.Error("expected non-retryable when the migrated chat rejects too")
	}
	if !strings.Contains(result.FailureReason, "api_error_403") {
		t.Errorf("unexpected failure reason: %q", result.FailureReason)
	}
}

func TestDeliver_ParseEntityFallback(t *testing.T) {
	bot := &stubBot{results: []stubResult{
		{err: &tgbotapi.Error{
			Code:    400,
			Message: "Bad Request: can't parse entities: character '_' is reserved",
		}},
		{msg: tgbotapi.Message{MessageID: 88}},
	}}
	ch := newTestChannel(bot)

	result, err := ch.Deliver(context.Background(), []byte("*broken _markdown"), chatConfig("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != types.DeliveryStatusSent {
		t.Fatalf("expected sent after plain resend, got %q (%s)", result.Status, result.FailureReason)
	}
	if result.ProviderMessageID != "88" {
		t.Errorf("expected provider_msg_id '88', got %q", result.ProviderMessageID)
	}

	if len(bot.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(bot.sent))
	}
	if bot.sent[0].ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("first send should use Markdown, got %q", bot.sent[0].ParseMode)
	}
	if bot.sent[1].ParseMode != "" {
		t.Errorf("fallback send should be plain, got %q", bot.sent[1].ParseMode)
	}
}

// --- ShouldRetry ---

func TestShouldRetry(t *testing.T) {
	ch := newTestChannel(&stubBot{})

	if ch.ShouldRetry(nil) {
		t.Error("expected false for nil error")
	}
	if !ch.ShouldRetry(errors.New("transport blew up")) {
		t.Error("expected true for transport error")
	}
}
