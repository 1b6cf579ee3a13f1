package notify

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/go-telegram/bot"
)

// Notifier delivers one transition record somewhere humans will see it.
type Notifier interface {
	Notify(ctx context.Context, rec *model.TransitionRecord) error
}

// TelegramNotifier posts transitions to the front-desk chat.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegramNotifier(b *bot.Bot, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: b, chatID: chatID}
}

// NewTelegramBot creates a send-only client without long polling
func NewTelegramBot(token string, opts ...bot.Option) (*bot.Bot, error) {
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, rec *model.TransitionRecord) error {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   FormatTransition(rec),
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
