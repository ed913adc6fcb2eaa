package dispatcher

import (
	"strings"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

type payloadBuilder func(n models.Notification, u models.User) (models.Payload, error)

// payloadBuilders holds one builder per channel variant.
var payloadBuilders = map[models.Channel]payloadBuilder{
	models.ChannelEmail:    emailPayload,
	models.ChannelPush:     pushPayload,
	models.ChannelWhatsApp: whatsAppPayload,
	models.ChannelInApp:    inAppPayload,
}

// BuildPayload renders the job payload of n for user over channel.
func BuildPayload(n models.Notification, u models.User, channel models.Channel) (models.Payload, error) {
	build, ok := payloadBuilders[channel]
	if !ok {
		return nil, apperrors.NewInvalidRequest("unsupported channel %q", channel)
	}
	return build(n, u)
}

func emailPayload(n models.Notification, u models.User) (models.Payload, error) {
	if u.Email == "" {
		return nil, apperrors.NewInvalidRequest("user %s has no email address", u.ID)
	}
	return models.EmailPayload{
		To:        u.Email,
		Name:      u.Name,
		Subject:   n.Title,
		Body:      n.Body,
		ActionURL: n.ActionURL,
	}, nil
}

// pushPayload addresses the user so the adapter fans out to every device.
func pushPayload(n models.Notification, u models.User) (models.Payload, error) {
	data := map[string]string{"notificationId": n.ID, "type": n.Type}
	if n.ActionURL != "" {
		data["actionUrl"] = n.ActionURL
	}
	if n.ActionType != "" {
		data["actionType"] = n.ActionType
	}
	return models.PushPayload{
		UserID: u.ID,
		Tokens: u.DeviceTokens,
		Title:  n.Title,
		Body:   n.Body,
		Data:   data,
	}, nil
}

func whatsAppPayload(n models.Notification, u models.User) (models.Payload, error) {
	if u.Phone == "" {
		return nil, apperrors.NewInvalidRequest("user %s has no phone number", u.ID)
	}
	parts := []string{"*" + n.Title + "*", n.Body}
	if n.ActionURL != "" {
		parts = append(parts, n.ActionURL)
	}
	return models.WhatsAppPayload{Phone: u.Phone, Body: strings.Join(parts, "\n")}, nil
}

func inAppPayload(n models.Notification, u models.User) (models.Payload, error) {
	return models.InAppPayload{
		UserID:         u.ID,
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           n.Body,
		Importance:     string(n.Importance),
		ActionURL:      n.ActionURL,
	}, nil
}
