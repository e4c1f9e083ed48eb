// Package telegram implements the Telegram notification delivery channel.
//
// Messages are sent through the Bot API with legacy Markdown formatting.
// Rate limits and server faults surface as retryable failures so the
// delivery queue can back off; unreachable chats (deleted, or the user
// blocked the bot) fail permanently. Group-to-supergroup migrations are
// followed once per delivery using the migration hint the API returns.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"finpulse/internal/config"
	"finpulse/internal/types"
)

// botSender is the subset of *tgbotapi.BotAPI the channel uses. Declared here
// so tests can substitute a stub.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Compile-time assertion that TelegramChannel implements types.NotificationChannel.
var _ types.NotificationChannel = (*TelegramChannel)(nil)

// TelegramChannel implements types.NotificationChannel for Telegram delivery.
// The destination chat ID comes from the per-user channel config.
type TelegramChannel struct {
	bot    botSender
	logger types.Logger
}

// NewTelegramChannel creates a TelegramChannel. Bot construction performs a
// getMe call, so an invalid token fails here rather than on first delivery.
func NewTelegramChannel(cfg *config.TelegramConfig, logger types.Logger) (*TelegramChannel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram channel: config is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("telegram channel: logger is nil")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken.Unmask())
	if err != nil {
		return nil, fmt.Errorf("telegram channel: bot init: %w", err)
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{bot: bot, logger: logger}, nil
}

// NewTelegramChannelWithBot creates a TelegramChannel with a caller-supplied
// sender. This constructor exists for testing.
func NewTelegramChannelWithBot(bot botSender, logger types.Logger) *TelegramChannel {
	return &TelegramChannel{bot: bot, logger: logger}
}

// Type returns the channel type identifier for Telegram.
func (t *TelegramChannel) Type() types.ChannelType {
	return types.ChannelTelegram
}

// ValidateConfig checks if the Telegram channel configuration is valid.
// The config must carry a "chat_id" resolvable to an integer.
func (t *TelegramChannel) ValidateConfig(cfg map[string]any) error {
	if _, err := chatIDFromConfig(cfg); err != nil {
		return fmt.Errorf("telegram channel: %w", err)
	}
	return nil
}

// Format renders the notification as a Markdown message body.
func (t *TelegramChannel) Format(ctx context.Context, n *types.Notification, cfg map[string]any) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("telegram channel: notification is nil")
	}
	return []byte(renderMarkdown(n)), nil
}

// Deliver sends the formatted message to the chat named in the config.
// Failures come back as a DeliveryResult with Retryable set according to
// the Bot API response; only context cancellation returns a raw error.
func (t *TelegramChannel) Deliver(ctx context.Context, payload []byte, cfg map[string]any) (*types.DeliveryResult, error) {
	chatID, err := chatIDFromConfig(cfg)
	if err != nil {
		return permanentFailure(fmt.Sprintf("invalid_chat: %v", err)), nil
	}

	// tgbotapi.Send does not take a context, so honor cancellation up front.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sent, err := t.bot.Send(buildMessage(chatID, payload))
	if err == nil {
		t.logger.Info("telegram delivered",
			"chat_id", chatID,
			"message_id", sent.MessageID,
		)
		return &types.DeliveryResult{
			ProviderMessageID: strconv.Itoa(sent.MessageID),
			Status:            types.DeliveryStatusSent,
		}, nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		// A group upgraded to a supergroup answers with a new chat ID.
		if apiErr.MigrateToChatID != 0 {
			return t.resendMigrated(payload, chatID, apiErr.MigrateToChatID)
		}
		// Entity parse failures are a formatting bug on our side, not the
		// chat's fault. Resend without parse mode rather than dropping the
		// notice.
		if apiErr.Code == 400 && strings.Contains(apiErr.Message, "can't parse entities") {
			return t.resendPlain(payload, chatID)
		}
	}

	return t.classifySendError(err, chatID), nil
}

// ShouldRetry inspects a raw transport error to determine if it is transient.
// API-level verdicts are carried in the DeliveryResult instead.
func (t *TelegramChannel) ShouldRetry(err error) bool {
	return err != nil
}

// resendMigrated retries the delivery once against the chat ID the API
// redirected us to.
func (t *TelegramChannel) resendMigrated(payload []byte, oldID, newID int64) (*types.DeliveryResult, error) {
	t.logger.Warn("telegram chat migrated",
		"old_chat_id", oldID,
		"new_chat_id", newID,
	)

	sent, err := t.bot.Send(buildMessage(newID, payload))
	if err != nil {
		return t.classifySendError(err, newID), nil
	}

	t.logger.Info("telegram delivered",
		"chat_id", newID,
		"message_id", sent.MessageID,
		"migrated_from", oldID,
	)
	return &types.DeliveryResult{
		ProviderMessageID: strconv.Itoa(sent.MessageID),
		Status:            types.DeliveryStatusSent,
	}, nil
}

// resendPlain retries the delivery once without a parse mode. The Markdown
// markers show literally, but the notice still lands.
func (t *TelegramChannel) resendPlain(payload []byte, chatID int64) (*types.DeliveryResult, error) {
	t.logger.Warn("telegram entity parse rejected, resending plain", "chat_id", chatID)

	msg := buildMessage(chatID, payload)
	msg.ParseMode = ""

	sent, err := t.bot.Send(msg)
	if err != nil {
		return t.classifySendError(err, chatID), nil
	}

	return &types.DeliveryResult{
		ProviderMessageID: strconv.Itoa(sent.MessageID),
		Status:            types.DeliveryStatusSent,
	}, nil
}

// classifySendError maps a Send error to a DeliveryResult.
func (t *TelegramChannel) classifySendError(err error, chatID int64) *types.DeliveryResult {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		t.logger.Warn("telegram network error",
			"chat_id", chatID,
			"error", err.Error(),
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: fmt.Sprintf("network_error: %v", err),
			Retryable:     true,
		}
	}

	switch {
	case apiErr.Code == 429:
		// The queue applies its own backoff; retry_after is logged for
		// operators, not honored directly.
		t.logger.Warn("telegram throttled",
			"chat_id", chatID,
			"retry_after", apiErr.RetryAfter,
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "throttled_429",
			Retryable:     true,
		}

	case apiErr.Code >= 500:
		t.logger.Warn("telegram server error",
			"chat_id", chatID,
			"status", apiErr.Code,
			"description", apiErr.Message,
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: fmt.Sprintf("server_error_%d: %s", apiErr.Code, apiErr.Message),
			Retryable:     true,
		}

	default:
		// 400 "chat not found" and 403 "bot was blocked by the user" mean
		// the destination is gone; retrying cannot fix it.
		t.logger.Warn("telegram rejected",
			"chat_id", chatID,
			"status", apiErr.Code,
			"description", apiErr.Message,
		)
		return permanentFailure(fmt.Sprintf("api_error_%d: %s", apiErr.Code, apiErr.Message))
	}
}

// buildMessage assembles the standard outbound message config.
func buildMessage(chatID int64, payload []byte) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, string(payload))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	return msg
}

// permanentFailure builds a failed, non-retryable DeliveryResult.
func permanentFailure(reason string) *types.DeliveryResult {
	return &types.DeliveryResult{
		Status:        types.DeliveryStatusFailed,
		FailureReason: reason,
		Retryable:     false,
	}
}

// chatIDFromConfig resolves the destination chat ID. Configs decoded from
// JSON carry numbers as float64; configs written in Go carry native ints.
func chatIDFromConfig(cfg map[string]any) (int64, error) {
	raw, ok := cfg["chat_id"]
	if !ok {
		return 0, fmt.Errorf("missing required 'chat_id' field")
	}

	switch v := raw.(type) {
	case string:
		if v == "" {
			return 0, fmt.Errorf("'chat_id' must not be empty")
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("'chat_id' is not a valid integer: %q", v)
		}
		return id, nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("'chat_id' must be a string or number, got %T", raw)
	}
}
