package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"notification-engine/internal/models"
)

// Outcome is what an adapter reports for a successful send.
type Outcome struct {
	ProviderMessageID string
	// Recipients is the number of endpoints reached (devices, sockets).
	Recipients int
}

// Sender delivers one payload variant over its channel.
type Sender interface {
	Send(ctx context.Context, p models.Payload) (Outcome, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, p models.Payload) (Outcome, error)

func (f SenderFunc) Send(ctx context.Context, p models.Payload) (Outcome, error) {
	return f(ctx, p)
}

// Registry maps each channel to its adapter.
type Registry map[models.Channel]Sender

// Lookup returns the adapter for channel.
func (r Registry) Lookup(channel models.Channel) (Sender, error) {
	s, ok := r[channel]
	if !ok || s == nil {
		return nil, fmt.Errorf("no sender registered for channel %s", channel)
	}
	return s, nil
}

// Send routes p to the adapter for its channel.
func (r Registry) Send(ctx context.Context, p models.Payload) (Outcome, error) {
	s, err := r.Lookup(p.Channel())
	if err != nil {
		return Outcome{}, err
	}
	return s.Send(ctx, p)
}

// WithRateLimit wraps s so that sends wait on a token bucket of perSecond.
// A non-positive rate disables limiting.
func WithRateLimit(s Sender, perSecond int) Sender {
	if perSecond <= 0 {
		return s
	}
	limiter := rate.NewLimiter(rate.Limit(float64(perSecond)), perSecond)
	return SenderFunc(func(ctx context.Context, p models.Payload) (Outcome, error) {
		if err := limiter.Wait(ctx); err != nil {
			return Outcome{}, fmt.Errorf("%s rate limit wait aborted: %w", p.Channel(), err)
		}
		return s.Send(ctx, p)
	})
}

func unexpectedPayload(want models.Channel, got models.Payload) error {
	return fmt.Errorf("%s sender received %T payload", want, got)
}
