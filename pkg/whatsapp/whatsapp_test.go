package whatsapp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = p
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestSendPrefixesAddresses(t *testing.T) {
	api := &fakeCreator{}
	c := NewWithAPI(api, "+15550001111")

	sid, err := c.Send("+5511999990000", "Reminder: task due")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "whatsapp:+5511999990000", *api.params.To)
	assert.Equal(t, "whatsapp:+15550001111", *api.params.From)
	assert.Equal(t, "Reminder: task due", *api.params.Body)
}

func TestSendRejectsLocalNumbers(t *testing.T) {
	api := &fakeCreator{}
	_, err := NewWithAPI(api, "+15550001111").Send("11999990000", "hi")
	require.Error(t, err)
	assert.Nil(t, api.params)
}

func TestSendWrapsAPIError(t *testing.T) {
	limited := errors.New("429 too many requests")
	_, err := NewWithAPI(&fakeCreator{err: limited}, "+15550001111").Send("+5511999990000", "hi")
	assert.ErrorIs(t, err, limited)
}
