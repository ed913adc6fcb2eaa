package providers

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

// MulticastClient is the part of the FCM client used for push.
type MulticastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// DeviceTokens looks up every registered device of a user.
type DeviceTokens interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

// PushSender delivers PushPayload to every device of the user.
type PushSender struct {
	client  MulticastClient
	devices DeviceTokens
}

// NewFirebaseClient builds an FCM messaging client from a service account file.
func NewFirebaseClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return client, nil
}

func NewPushSender(client MulticastClient, devices DeviceTokens) *PushSender {
	return &PushSender{client: client, devices: devices}
}

func (s *PushSender) Send(ctx context.Context, p models.Payload) (Outcome, error) {
	msg, ok := p.(models.PushPayload)
	if !ok {
		return Outcome{}, unexpectedPayload(models.ChannelPush, p)
	}

	tokens := msg.Tokens
	if msg.UserID != "" {
		all, err := s.devices.DeviceTokens(ctx, msg.UserID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to load devices for user %s: %w", msg.UserID, err)
		}
		if len(all) > 0 {
			tokens = all
		}
	}
	if len(tokens) == 0 {
		return Outcome{}, apperrors.NewInvalidRequest("no push devices registered for user %s", msg.UserID)
	}

	resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to send push to %d devices: %w", len(tokens), err)
	}
	if resp.SuccessCount == 0 {
		var firstErr error
		for _, r := range resp.Responses {
			if r != nil && r.Error != nil {
				firstErr = r.Error
				break
			}
		}
		return Outcome{}, fmt.Errorf("push rejected by all %d devices: %v", len(tokens), firstErr)
	}

	var id string
	for _, r := range resp.Responses {
		if r != nil && r.Success {
			id = r.MessageID
			break
		}
	}
	return Outcome{ProviderMessageID: id, Recipients: resp.SuccessCount}, nil
}
