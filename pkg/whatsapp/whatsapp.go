package whatsapp

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MessageCreator is the part of the Twilio REST API used here.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client sends WhatsApp messages through Twilio.
type Client struct {
	api        MessageCreator
	fromNumber string
}

func New(accountSID, authToken, fromNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, fromNumber: fromNumber}
}

// NewWithAPI builds a Client around an existing creator.
func NewWithAPI(api MessageCreator, fromNumber string) *Client {
	return &Client{api: api, fromNumber: fromNumber}
}

func address(number string) string {
	return "whatsapp:" + strings.TrimPrefix(number, "whatsapp:")
}

// Send delivers body to an E.164 phone number and returns the message SID.
func (c *Client) Send(toNumber, body string) (string, error) {
	if !strings.HasPrefix(toNumber, "+") {
		return "", fmt.Errorf("invalid phone number: %s", toNumber)
	}
	if c.fromNumber == "" {
		return "", fmt.Errorf("missing WhatsApp configuration: FromNumber is empty")
	}

	to := address(toNumber)
	from := address(c.fromNumber)
	params := &twilioApi.CreateMessageParams{
		To:   &to,
		From: &from,
		Body: &body,
	}

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send WhatsApp message to %s: %w", toNumber, err)
	}
	if resp != nil && resp.Sid != nil {
		return *resp.Sid, nil
	}
	return "", nil
}
