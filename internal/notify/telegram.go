package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier mirrors escalation notices into an operations chat.
// Sends are throttled to the configured rate.
type TelegramNotifier struct {
	sender  telegramSender
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegramNotifier creates the bot client without contacting Telegram.
func NewTelegramNotifier(token string, chatID int64, ratePerSecond int) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return newTelegramNotifier(b, chatID, ratePerSecond), nil
}

func newTelegramNotifier(sender telegramSender, chatID int64, ratePerSecond int) *TelegramNotifier {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &TelegramNotifier{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit: %w", err)
	}

	text := fmt.Sprintf("%s\nissue: %s\norganization: %s", msg.Subject(), msg.IssueID, msg.OrganizationID)
	if msg.Kind == KindLevel && msg.ContactEmail != "" {
		text += fmt.Sprintf("\nnotified: %s", msg.ContactEmail)
	}
	if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: n.chatID, Text: text}); err != nil {
		return fmt.Errorf("send telegram message to chat %d: %w", n.chatID, err)
	}
	return nil
}
