package notify

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
)

const (
	sendTimeout = 10 * time.Second
	// Telegram rejects messages longer than this many characters.
	maxMessageLength = 4096
)

// Telegram delivers operational alerts to a single chat. Delivery failures
// are logged and never returned to the caller.
type Telegram struct {
	Bot    *telego.Bot
	ChatID int64
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger, opts ...telego.BotOption) (*Telegram, error) {
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{
		Bot:    bot,
		ChatID: chatID,
		logger: logger,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	_, err := t.Bot.SendMessage(ctx, tu.Message(tu.ID(t.ChatID), truncate(text, maxMessageLength)))
	if err != nil {
		t.logger.Warn("Failed to send telegram notification", zap.Int64("chat_id", t.ChatID), zap.Error(err))
	}
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
