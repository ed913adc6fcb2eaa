package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the channel-specific body of a delivery job. The set of variants is
// closed: EmailPayload, PushPayload, WhatsAppPayload and InAppPayload.
type Payload interface {
	Channel() Channel
}

type EmailPayload struct {
	To        string `json:"to"`
	Name      string `json:"name,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ActionURL string `json:"action_url,omitempty"`
}

func (EmailPayload) Channel() Channel { return ChannelEmail }

// PushPayload targets every registered device of UserID when Tokens is empty.
type PushPayload struct {
	UserID string            `json:"user_id,omitempty"`
	Tokens []string          `json:"tokens,omitempty"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func (PushPayload) Channel() Channel { return ChannelPush }

type WhatsAppPayload struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
}

func (WhatsAppPayload) Channel() Channel { return ChannelWhatsApp }

type InAppPayload struct {
	UserID         string `json:"user_id"`
	NotificationID string `json:"notification_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Importance     string `json:"importance,omitempty"`
	ActionURL      string `json:"action_url,omitempty"`
	Reminder       bool   `json:"reminder,omitempty"`
}

func (InAppPayload) Channel() Channel { return ChannelInApp }

var payloadDecoders = map[Channel]func(json.RawMessage) (Payload, error){
	ChannelEmail:    decodeAs[EmailPayload],
	ChannelPush:     decodeAs[PushPayload],
	ChannelWhatsApp: decodeAs[WhatsAppPayload],
	ChannelInApp:    decodeAs[InAppPayload],
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodePayload restores the variant for channel from its JSON form.
func DecodePayload(channel Channel, raw json.RawMessage) (Payload, error) {
	decode, ok := payloadDecoders[channel]
	if !ok {
		return nil, fmt.Errorf("no payload type for channel %s", channel)
	}
	p, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", channel, err)
	}
	return p, nil
}
