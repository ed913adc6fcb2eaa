package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-engine/internal/audit"
	"notification-engine/internal/db/memdb"
	"notification-engine/internal/dispatcher"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
	"notification-engine/internal/queue"
	"notification-engine/internal/reminder"
	"notification-engine/internal/resolver"
	"notification-engine/internal/tracker"
)

type harness struct {
	engine *Engine
	store  *memdb.Store
	queue  *queue.RedisQueue
	disp   *dispatcher.Dispatcher
	sent   []models.Payload
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{store: memdb.New(), queue: queue.NewRedisQueue(client, "test")}
	logger := logging.NewNop()
	recorder := audit.NewRecorder(nil, logger)
	tr := tracker.New(h.store, recorder, logger)

	registry := providers.Registry{}
	for _, ch := range models.Channels {
		registry[ch] = providers.SenderFunc(func(_ context.Context, p models.Payload) (providers.Outcome, error) {
			h.sent = append(h.sent, p)
			return providers.Outcome{Recipients: 1}, nil
		})
	}
	h.disp = dispatcher.New(h.store, h.queue, tr, registry, nil, logger, dispatcher.Config{MaxRetries: 3})
	sched := reminder.New(h.store, nil, h.disp, nil, recorder, logger, reminder.Config{})

	h.engine = New(Deps{
		Store:      h.store,
		Recipients: resolver.NewRecipientResolver(h.store, logger, time.UTC),
		Channels:   resolver.NewChannelResolver(h.store, logger),
		Dispatcher: h.disp,
		Tracker:    tr,
		Reminders:  sched,
	}, logger)

	h.store.AddUser(models.User{ID: "u1", Name: "Ana", Email: "ana@example.com", Active: true, SectorID: "warehouse"})
	h.store.AddUser(models.User{ID: "u2", Name: "Bruno", Email: "bruno@example.com", Active: true, SectorID: "warehouse"})
	h.store.AddUser(models.User{ID: "u3", Name: "Carla", Active: false, SectorID: "warehouse"})
	h.store.AddConfiguration(models.NotificationConfiguration{
		Key:        "stock.low",
		Type:       "STOCK",
		Importance: models.ImportanceHigh,
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelInApp, Enabled: true, Mandatory: true},
			{Channel: models.ChannelEmail, Enabled: true, DefaultOn: true},
			{Channel: models.ChannelWhatsApp, Enabled: false, DefaultOn: true},
		},
	})
	return h
}

func (h *harness) notificationFor(t *testing.T, ids []string, userID string) string {
	t.Helper()
	for _, id := range ids {
		n, err := h.store.GetNotification(context.Background(), id)
		require.NoError(t, err)
		if n.UserID != nil && *n.UserID == userID {
			return id
		}
	}
	t.Fatalf("no notification addressed to %s", userID)
	return ""
}

func stockRequest() models.NotifyRequest {
	return models.NotifyRequest{
		RequestID: "req-1",
		EventKey:  "stock.low",
		Title:     "Low stock",
		Body:      "Item 42 is below its minimum",
		Rule:      models.TargetingRule{SectorIDs: []string{"warehouse"}},
	}
}

func TestNotifyCreatesAndDispatchesPerRecipient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.Notify(ctx, stockRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recipients, "inactive users are excluded")
	require.Len(t, res.NotificationIDs, 2)
	assert.Equal(t, 1, h.store.PreferenceQueries)

	n, err := h.store.GetNotification(ctx, res.NotificationIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "STOCK", n.Type)
	assert.Equal(t, models.ImportanceHigh, n.Importance)
	assert.Equal(t, []models.Channel{models.ChannelInApp, models.ChannelEmail}, n.Channels)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Ready)

	for {
		ok, err := h.disp.ProcessNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	assert.Len(t, h.sent, 4)

	ds, err := h.engine.GetDeliveryStats(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Delivered)
	assert.Equal(t, 100.0, ds.DeliveryRate)
}

func TestNotifyIntersectsRequestedChannels(t *testing.T) {
	h := newHarness(t)
	req := stockRequest()
	req.Channels = []models.Channel{"in_app", models.ChannelPush}

	res, err := h.engine.Notify(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.NotificationIDs, 2)

	n, err := h.store.GetNotification(context.Background(), res.NotificationIDs[1])
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelInApp}, n.Channels)
}

func TestNotifySkipsUsersWithoutChannels(t *testing.T) {
	h := newHarness(t)
	req := stockRequest()
	req.Channels = []models.Channel{models.ChannelWhatsApp}

	res, err := h.engine.Notify(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.NotificationIDs)
	assert.Equal(t, 2, res.Skipped)
}

func TestNotifyWithoutConfigurationUsesRequestChannels(t *testing.T) {
	h := newHarness(t)
	req := stockRequest()
	req.EventKey = ""
	req.Rule = models.TargetingRule{IncludeUserIDs: []string{"u1"}}
	req.Channels = []models.Channel{models.ChannelEmail}

	res, err := h.engine.Notify(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.NotificationIDs, 1)

	n, err := h.store.GetNotification(context.Background(), res.NotificationIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImportanceNormal, n.Importance)
	assert.Equal(t, "u1", *n.UserID)
}

func TestNotifyValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*models.NotifyRequest)
	}{
		{"empty title", func(r *models.NotifyRequest) { r.Title = "  " }},
		{"empty body", func(r *models.NotifyRequest) { r.Body = "" }},
		{"bad importance", func(r *models.NotifyRequest) { r.Importance = "SEVERE" }},
		{"bad channel", func(r *models.NotifyRequest) { r.Channels = []models.Channel{"FAX"} }},
		{"no key nor channels", func(r *models.NotifyRequest) { r.EventKey = "" }},
		{"unknown filter", func(r *models.NotifyRequest) { r.Rule.Filter = "EVERYONE" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := stockRequest()
			tc.mutate(&req)
			_, err := h.engine.Notify(context.Background(), req)
			assert.True(t, apperrors.IsInvalidRequest(err), "got %v", err)
		})
	}
}

func TestNotifyUnknownConfiguration(t *testing.T) {
	h := newHarness(t)
	req := stockRequest()
	req.EventKey = "missing"

	_, err := h.engine.Notify(context.Background(), req)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReminderOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.engine.Notify(ctx, stockRequest())
	require.NoError(t, err)
	nid := h.notificationFor(t, res.NotificationIDs, "u1")

	_, err = h.engine.ScheduleReminder(ctx, nid, "u1", "2h")
	assert.True(t, apperrors.IsInvalidRequest(err))

	r, err := h.engine.ScheduleReminder(ctx, nid, "u1", "15min")
	require.NoError(t, err)
	assert.Equal(t, 1, r.ReminderCount)

	list, err := h.engine.ListReminders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = h.engine.CancelReminder(ctx, nid, "u1")
	require.NoError(t, err)
	assert.Len(t, h.engine.ReminderOptions(), 6)
}

func TestMarkDeliveredAndSeen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.engine.Notify(ctx, stockRequest())
	require.NoError(t, err)
	nid := h.notificationFor(t, res.NotificationIDs, "u1")

	_, err = h.engine.MarkDelivered(ctx, nid, "SMOKE")
	assert.True(t, apperrors.IsInvalidRequest(err))

	d, err := h.engine.MarkDelivered(ctx, nid, models.ChannelInApp)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, d.Status)

	require.NoError(t, h.engine.MarkSeen(ctx, nid, "u1"))
	stats, err := h.engine.GetDeliveryStats(ctx, nid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Seen)

	_, err = h.engine.AnalyticsOverview(ctx, models.TimeRange{})
	assert.True(t, apperrors.IsNotFound(err))
}
