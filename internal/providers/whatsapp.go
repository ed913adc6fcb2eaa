package providers

import (
	"context"
	"strings"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

// WhatsAppClient sends a text body to a phone number.
type WhatsAppClient interface {
	Send(toNumber, body string) (string, error)
}

type WhatsAppSender struct {
	client WhatsAppClient
}

func NewWhatsAppSender(client WhatsAppClient) *WhatsAppSender {
	return &WhatsAppSender{client: client}
}

func (s *WhatsAppSender) Send(_ context.Context, p models.Payload) (Outcome, error) {
	msg, ok := p.(models.WhatsAppPayload)
	if !ok {
		return Outcome{}, unexpectedPayload(models.ChannelWhatsApp, p)
	}
	if !strings.HasPrefix(msg.Phone, "+") {
		return Outcome{}, apperrors.NewInvalidRequest("phone number must be in E.164 format: %s", msg.Phone)
	}
	sid, err := s.client.Send(msg.Phone, msg.Body)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ProviderMessageID: sid, Recipients: 1}, nil
}
