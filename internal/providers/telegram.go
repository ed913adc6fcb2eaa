package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"notification-engine/internal/logging"
	"notification-engine/internal/utils"
)

// MessageSender is the part of the Telegram bot API used for alerts.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Alerter posts operator alerts to a Telegram chat. A zero chat id or empty
// token turns it into a logger-only alerter.
type Alerter struct {
	token   string
	chatID  int64
	prefix  string
	limiter *rate.Limiter
	logger  *logging.Logger

	once   sync.Once
	client MessageSender
	err    error
}

func NewAlerter(token string, chatID int64, prefix string, ratePerSecond int, logger *logging.Logger) *Alerter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &Alerter{
		token:   token,
		chatID:  chatID,
		prefix:  prefix,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
	}
}

// NewAlerterWithClient is used when a bot client already exists.
func NewAlerterWithClient(client MessageSender, chatID int64, prefix string, logger *logging.Logger) *Alerter {
	a := NewAlerter("", chatID, prefix, 0, logger)
	a.client = client
	a.once.Do(func() {})
	return a
}

func (a *Alerter) Enabled() bool {
	return a != nil && a.chatID != 0 && (a.token != "" || a.client != nil)
}

func (a *Alerter) bot() (MessageSender, error) {
	a.once.Do(func() {
		b, err := bot.New(a.token, bot.WithSkipGetMe())
		if err != nil {
			a.err = fmt.Errorf("failed to initialize Telegram bot: %w", err)
			return
		}
		a.client = b
	})
	return a.client, a.err
}

// Alert sends text to the ops chat. Failures are logged and returned.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	if !a.Enabled() {
		a.logger.Warnf("ops alert (telegram disabled): %s", text)
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}
	client, err := a.bot()
	if err != nil {
		return err
	}

	params := &bot.SendMessageParams{
		ChatID: a.chatID,
		Text:   fmt.Sprintf("%s %s", a.prefix, text),
	}
	return utils.Retry(ctx, a.logger, 3, time.Second, func() error {
		if _, err := client.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", a.chatID, err)
		}
		return nil
	})
}
