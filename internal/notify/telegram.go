package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"taptoken/internal/model"
)

// Telegram sends operator alerts to a configured chat. Alerting is best
// effort: a failed delivery is logged and never blocks settlement.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.SugaredLogger
}

// NewTelegram builds the alert channel. An empty bot token disables alerting
// and returns nil, which Alert tolerates.
func NewTelegram(cfg model.TelegramConfig, log *zap.SugaredLogger) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}

	log.Infow("telegram alerting enabled", "bot", bot.Self.UserName, "chat_id", cfg.ChatID)
	return &Telegram{bot: bot, chatID: cfg.ChatID, log: log}, nil
}

func (t *Telegram) Alert(_ context.Context, message string) {
	if t == nil || t.bot == nil {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
		t.log.Warnw("failed to send telegram alert", "error", err)
	}
}
