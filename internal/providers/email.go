package providers

import (
	"context"
	"fmt"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
	"notification-engine/pkg/email"
)

// EmailSender delivers EmailPayload over SMTP.
type EmailSender struct {
	cfg  email.Config
	send email.SendFunc
}

func NewEmailSender(cfg email.Config) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Send(_ context.Context, p models.Payload) (Outcome, error) {
	msg, ok := p.(models.EmailPayload)
	if !ok {
		return Outcome{}, unexpectedPayload(models.ChannelEmail, p)
	}
	if err := email.Validate(msg.To); err != nil {
		return Outcome{}, apperrors.NewInvalidRequest("%v", err)
	}

	body := msg.Body
	if msg.ActionURL != "" {
		body = fmt.Sprintf("%s\n\n%s", body, msg.ActionURL)
	}
	err := email.Send(s.cfg, email.Message{
		To:      msg.To,
		Name:    msg.Name,
		Subject: msg.Subject,
		Body:    body,
	}, s.send)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Recipients: 1}, nil
}
