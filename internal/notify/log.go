package notify

import (
	"context"

	"go.uber.org/zap"
)

// Log writes alerts to the application log only. Used when no Telegram bot is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, text string) {
	l.logger.Warn("notification", zap.String("text", text))
}
