package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

func boolPtr(b bool) *bool { return &b }

type fakePrefs struct {
	prefs map[string][]models.UserNotificationPreference
	calls int
}

func (f *fakePrefs) PreferencesForUsers(_ context.Context, ids []string, _, _ string) (map[string][]models.UserNotificationPreference, error) {
	f.calls++
	out := map[string][]models.UserNotificationPreference{}
	for _, id := range ids {
		out[id] = f.prefs[id]
	}
	return out, nil
}

func channelsOf(resolved []models.ResolvedChannel) []models.Channel {
	var out []models.Channel
	for _, r := range resolved {
		out = append(out, r.Channel)
	}
	return out
}

func emailPushConfig() models.NotificationConfiguration {
	return models.NotificationConfiguration{
		Key:        "task.assigned",
		Type:       "TASK",
		EventType:  "assigned",
		Importance: models.ImportanceNormal,
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelEmail, Enabled: true, Mandatory: true},
			{Channel: models.ChannelPush, Enabled: true, Mandatory: false, DefaultOn: false},
		},
	}
}

func TestResolveMandatoryBeatsPreference(t *testing.T) {
	pref := &models.UserNotificationPreference{UserID: "u1", Enabled: true, Channels: []models.Channel{}}

	resolved := Resolve(emailPushConfig(), models.User{ID: "u1"}, pref)

	require.Len(t, resolved, 1)
	assert.Equal(t, models.ResolvedChannel{Channel: models.ChannelEmail, Mandatory: true}, resolved[0])
}

func TestResolveGloballyDisabledUserKeepsOnlyMandatory(t *testing.T) {
	cfg := models.NotificationConfiguration{
		Importance: models.ImportanceHigh,
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelInApp, Enabled: true, Mandatory: true},
			{Channel: models.ChannelEmail, Enabled: true, DefaultOn: true},
			{Channel: models.ChannelPush, Enabled: true, DefaultOn: true},
			{Channel: models.ChannelWhatsApp, Enabled: true, DefaultOn: false},
		},
	}
	pref := &models.UserNotificationPreference{
		UserID:   "u1",
		Enabled:  false,
		Channels: []models.Channel{models.ChannelEmail, models.ChannelPush, models.ChannelWhatsApp},
	}

	resolved := Resolve(cfg, models.User{ID: "u1"}, pref)

	assert.Equal(t, []models.Channel{models.ChannelInApp}, channelsOf(resolved))
}

func TestResolveUserMandatoryChannelIsForced(t *testing.T) {
	cfg := emailPushConfig()
	pref := &models.UserNotificationPreference{
		UserID:            "u1",
		Enabled:           false,
		MandatoryChannels: []models.Channel{models.ChannelPush},
	}

	resolved := Resolve(cfg, models.User{ID: "u1"}, pref)

	require.Len(t, resolved, 2)
	assert.Equal(t, models.ChannelPush, resolved[1].Channel)
	assert.True(t, resolved[1].Mandatory)
}

func TestResolveUserMandatoryCannotEnableDisabledChannel(t *testing.T) {
	cfg := models.NotificationConfiguration{
		Channels: []models.ChannelConfig{{Channel: models.ChannelWhatsApp, Enabled: false}},
	}
	pref := &models.UserNotificationPreference{Enabled: true, MandatoryChannels: []models.Channel{models.ChannelWhatsApp}}

	assert.Empty(t, Resolve(cfg, models.User{ID: "u1"}, pref))
}

func TestResolveDefaultsWithoutPreference(t *testing.T) {
	cfg := models.NotificationConfiguration{
		Importance: models.ImportanceNormal,
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelInApp, Enabled: true, DefaultOn: true},
			{Channel: models.ChannelEmail, Enabled: true, DefaultOn: false},
			{Channel: models.ChannelPush, Enabled: false, DefaultOn: true},
		},
	}

	resolved := Resolve(cfg, models.User{ID: "u1"}, nil)

	assert.Equal(t, []models.Channel{models.ChannelInApp}, channelsOf(resolved))
}

func TestResolveImportanceThreshold(t *testing.T) {
	cfg := models.NotificationConfiguration{
		Importance: models.ImportanceNormal,
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelWhatsApp, Enabled: true, DefaultOn: true, MinImportance: models.ImportanceHigh},
			{Channel: models.ChannelInApp, Enabled: true, DefaultOn: true},
		},
	}

	assert.Equal(t, []models.Channel{models.ChannelInApp}, channelsOf(Resolve(cfg, models.User{ID: "u1"}, nil)))

	cfg.Importance = models.ImportanceUrgent
	assert.Equal(t, []models.Channel{models.ChannelWhatsApp, models.ChannelInApp}, channelsOf(Resolve(cfg, models.User{ID: "u1"}, nil)))
}

func TestResolveSectorOverrideIsPartial(t *testing.T) {
	high := models.ImportanceHigh
	cfg := models.NotificationConfiguration{
		Importance: models.ImportanceNormal,
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelEmail, Enabled: true, DefaultOn: false},
			{Channel: models.ChannelWhatsApp, Enabled: true, DefaultOn: true, MinImportance: models.ImportanceHigh},
			{Channel: models.ChannelPush, Enabled: true, DefaultOn: true},
		},
		SectorOverrides: []models.SectorOverride{{
			SectorPrivilege: "PRODUCTION",
			Importance:      &high,
			Channels: []models.ChannelOverride{
				{Channel: models.ChannelEmail, DefaultOn: boolPtr(true)},
				{Channel: models.ChannelPush, Enabled: boolPtr(false)},
			},
		}},
	}
	production := models.User{ID: "u1", Sector: &models.Sector{ID: "s1", Privilege: "PRODUCTION"}}
	admin := models.User{ID: "u2", Sector: &models.Sector{ID: "s2", Privilege: "ADMIN"}}

	got := Resolve(cfg, production, nil)
	assert.Equal(t, []models.ResolvedChannel{
		{Channel: models.ChannelEmail, FromOverride: true},
		{Channel: models.ChannelWhatsApp},
	}, got)

	assert.Equal(t, []models.Channel{models.ChannelPush}, channelsOf(Resolve(cfg, admin, nil)))
}

func TestResolveSectorOverrideCanMakeMandatory(t *testing.T) {
	cfg := emailPushConfig()
	cfg.SectorOverrides = []models.SectorOverride{{
		SectorPrivilege: "LEADER",
		Channels:        []models.ChannelOverride{{Channel: models.ChannelPush, Mandatory: boolPtr(true)}},
	}}
	user := models.User{ID: "u1", Sector: &models.Sector{Privilege: "LEADER"}}
	pref := &models.UserNotificationPreference{Enabled: true}

	resolved := Resolve(cfg, user, pref)

	require.Len(t, resolved, 2)
	assert.Equal(t, models.ResolvedChannel{Channel: models.ChannelPush, Mandatory: true, FromOverride: true}, resolved[1])
}

func TestPickPreferencePrefersMostSpecific(t *testing.T) {
	prefs := []models.UserNotificationPreference{
		{UserID: "u1", Enabled: true, Channels: []models.Channel{models.ChannelEmail}},
		{UserID: "u1", Type: "TASK", Enabled: true, Channels: []models.Channel{models.ChannelPush}},
		{UserID: "u1", Type: "TASK", EventType: "assigned", Enabled: true, Channels: []models.Channel{models.ChannelInApp}},
	}

	assert.Equal(t, []models.Channel{models.ChannelInApp}, pickPreference(prefs, "TASK", "assigned").Channels)
	assert.Equal(t, []models.Channel{models.ChannelPush}, pickPreference(prefs, "TASK", "created").Channels)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, pickPreference(prefs, "ORDER", "created").Channels)
	assert.Nil(t, pickPreference(nil, "TASK", "assigned"))
}

func TestResolveForUsersUsesOneQuery(t *testing.T) {
	prefs := &fakePrefs{prefs: map[string][]models.UserNotificationPreference{
		"u1": {{UserID: "u1", Enabled: true, Channels: []models.Channel{}}},
		"u2": {{UserID: "u2", Enabled: true, Channels: []models.Channel{models.ChannelPush}}},
	}}
	resolver := NewChannelResolver(prefs, logging.NewNop())

	got, err := resolver.ResolveForUsers(context.Background(), emailPushConfig(),
		[]models.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}})
	require.NoError(t, err)

	assert.Equal(t, 1, prefs.calls)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, channelsOf(got["u1"]))
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelPush}, channelsOf(got["u2"]))
	assert.Equal(t, []models.Channel{models.ChannelEmail}, channelsOf(got["u3"]))
}

func TestResolveForUserSingle(t *testing.T) {
	resolver := NewChannelResolver(&fakePrefs{}, logging.NewNop())

	got, err := resolver.ResolveForUser(context.Background(), emailPushConfig(), models.User{ID: "u9"})
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, channelsOf(got))
}
