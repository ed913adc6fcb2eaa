package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-engine/internal/audit"
	"notification-engine/internal/db/memdb"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
)

type recordingPusher struct {
	mu     sync.Mutex
	events []providers.Event
	err    error
	block  chan struct{}
	called chan struct{}
}

func (p *recordingPusher) PushToUser(_ string, event providers.Event) (int, error) {
	if p.called != nil {
		p.called <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return 1, p.err
}

type recordingRedispatcher struct {
	mu       sync.Mutex
	channels [][]models.Channel
	err      error
}

func (r *recordingRedispatcher) Redeliver(_ context.Context, _ models.Notification, _ string, channels []models.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channels)
	return r.err
}

type fixture struct {
	store      *memdb.Store
	pusher     *recordingPusher
	redispatch *recordingRedispatcher
	sched      *Scheduler
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      memdb.New(),
		pusher:     &recordingPusher{},
		redispatch: &recordingRedispatcher{},
		now:        time.Date(2026, 10, 14, 21, 0, 0, 0, brt),
	}
	logger := logging.NewNop()
	f.sched = New(f.store, f.pusher, f.redispatch, nil, audit.NewRecorder(nil, logger), logger, Config{
		Location:   brt,
		Window:     WorkWindow{Start: 7*60 + 30, End: 18 * 60},
		Redispatch: true,
	})
	f.sched.now = func() time.Time { return f.now }
	f.store.AddUser(models.User{ID: "u1", Name: "Ana", Active: true})
	f.store.AddUser(models.User{ID: "u2", Name: "Bruno", Active: true})
	return f
}

func (f *fixture) notification(t *testing.T, importance models.Importance) models.Notification {
	t.Helper()
	n := models.Notification{
		Title:      "Stock below minimum",
		Body:       "Item 42 needs restocking",
		Type:       "stock",
		Importance: importance,
		Channels:   []models.Channel{models.ChannelInApp, models.ChannelEmail, models.ChannelPush},
	}
	require.NoError(t, f.store.CreateNotification(context.Background(), &n))
	return n
}

func TestScheduleAdjustsIntoWorkWindow(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)

	r, err := f.sched.Schedule(context.Background(), n.ID, "u1", In1Hour)
	require.NoError(t, err)

	require.NotNil(t, r.RemindAt)
	assert.True(t, time.Date(2026, 10, 15, 7, 30, 0, 0, brt).Equal(*r.RemindAt), "got %s", r.RemindAt)
	assert.True(t, r.Adjusted)
	assert.Equal(t, 1, r.ReminderCount)
	assert.Equal(t, 2, r.RemainingReminders)
}

func TestScheduleKeepsUrgentTime(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceUrgent)

	r, err := f.sched.Schedule(context.Background(), n.ID, "u1", In1Hour)
	require.NoError(t, err)

	assert.True(t, time.Date(2026, 10, 14, 22, 0, 0, 0, brt).Equal(*r.RemindAt))
	assert.False(t, r.Adjusted)
}

func TestScheduleRejectsFourthReminder(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, n.ID, "u1", In5Minutes)
	require.NoError(t, err)
	_, err = f.sched.Reschedule(ctx, n.ID, "u1", In15Minutes)
	require.NoError(t, err)
	_, err = f.sched.Cancel(ctx, n.ID, "u1")
	require.NoError(t, err)
	r, err := f.sched.Schedule(ctx, n.ID, "u1", In3Hours)
	require.NoError(t, err)
	assert.Equal(t, 0, r.RemainingReminders)

	_, err = f.sched.Schedule(ctx, n.ID, "u1", In1Hour)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidRequest(err))

	// another user has their own budget
	_, err = f.sched.Schedule(ctx, n.ID, "u2", In1Hour)
	assert.NoError(t, err)
}

func TestScheduleUnknownNotification(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.Schedule(context.Background(), "missing", "u1", In1Hour)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScheduleRequiresRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.notification(t, models.ImportanceNormal)

	_, err := f.sched.Schedule(ctx, n.ID, "ghost", In1Hour)
	assert.True(t, apperrors.IsNotFound(err))

	owner := "u1"
	addressed := models.Notification{Title: "Payslip ready", Body: "October", Importance: models.ImportanceNormal, Channels: []models.Channel{models.ChannelInApp}, UserID: &owner}
	require.NoError(t, f.store.CreateNotification(ctx, &addressed))

	_, err = f.sched.Schedule(ctx, addressed.ID, "u2", In1Hour)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.sched.Cancel(ctx, addressed.ID, "u2")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.sched.Cancel(ctx, "missing", "u1")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.sched.Schedule(ctx, addressed.ID, "u1", In1Hour)
	assert.NoError(t, err)
	_, found, _ := f.store.GetSeenRecord(ctx, addressed.ID, "u2")
	assert.False(t, found)
}

func TestScheduleAtRejectsPast(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)

	_, err := f.sched.ScheduleAt(context.Background(), n.ID, "u1", f.now.Add(-time.Minute))
	assert.True(t, apperrors.IsInvalidRequest(err))
}

func TestCancelAndRescheduleRequireReminder(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)
	ctx := context.Background()

	_, err := f.sched.Cancel(ctx, n.ID, "u1")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.sched.Reschedule(ctx, n.ID, "u1", In1Hour)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.sched.Schedule(ctx, n.ID, "u1", In1Hour)
	require.NoError(t, err)
	r, err := f.sched.Cancel(ctx, n.ID, "u1")
	require.NoError(t, err)
	assert.Nil(t, r.RemindAt)

	list, err := f.sched.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func (f *fixture) dueReminder(t *testing.T, n models.Notification, userID string) models.SeenRecord {
	t.Helper()
	at := f.now.Add(-time.Minute)
	return f.store.PutSeen(models.SeenRecord{NotificationID: n.ID, UserID: userID, SeenAt: f.now, RemindAt: &at, ReminderCount: 1})
}

func TestProcessDueDeliversAndClears(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)
	f.dueReminder(t, n, "u1")
	later := f.now.Add(time.Hour)
	f.store.PutSeen(models.SeenRecord{NotificationID: n.ID, UserID: "u2", RemindAt: &later})

	res, err := f.sched.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Errors)
	assert.False(t, res.Skipped)

	require.Len(t, f.pusher.events, 1)
	assert.Equal(t, "reminder", f.pusher.events[0].Type)
	payload := f.pusher.events[0].Data.(models.InAppPayload)
	assert.True(t, payload.Reminder)

	require.Len(t, f.redispatch.channels, 1)
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelPush}, f.redispatch.channels[0])

	rec, _, _ := f.store.GetSeenRecord(context.Background(), n.ID, "u1")
	assert.Nil(t, rec.RemindAt)
	pending, _, _ := f.store.GetSeenRecord(context.Background(), n.ID, "u2")
	assert.NotNil(t, pending.RemindAt)

	stats, err := f.sched.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scheduled)
	assert.Zero(t, stats.Due)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, 1, stats.LastRun.Processed)

	res, err = f.sched.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed, "a reminder is delivered once")
}

func TestProcessDueSideEffectsAreBestEffort(t *testing.T) {
	f := newFixture(t)
	f.pusher.err = errors.New("socket closed")
	f.redispatch.err = errors.New("queue down")
	n := f.notification(t, models.ImportanceNormal)
	f.dueReminder(t, n, "u1")
	f.dueReminder(t, n, "u2")

	res, err := f.sched.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Errors)
}

func TestProcessDueIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)
	f.dueReminder(t, n, "u1")
	f.dueReminder(t, models.Notification{ID: "deleted"}, "u1")

	res, err := f.sched.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Errors)

	due, _ := f.store.ListDueReminders(context.Background(), f.now, 0)
	assert.Empty(t, due, "orphaned reminder is cleared")
}

func TestConcurrentSweepIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.pusher.block = make(chan struct{})
	f.pusher.called = make(chan struct{}, 1)
	n := f.notification(t, models.ImportanceNormal)
	f.dueReminder(t, n, "u1")

	done := make(chan SweepResult)
	go func() {
		res, _ := f.sched.ProcessDue(context.Background())
		done <- res
	}()
	<-f.pusher.called

	stats, err := f.sched.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Processing)

	res, err := f.sched.TriggerManualProcessing(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Processed)

	close(f.pusher.block)
	first := <-done
	assert.Equal(t, 1, first.Processed)
}

func TestCleanupClearsStaleWithoutDelivering(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, models.ImportanceNormal)
	old := f.now.Add(-40 * 24 * time.Hour)
	f.store.PutSeen(models.SeenRecord{NotificationID: n.ID, UserID: "u1", RemindAt: &old})
	f.dueReminder(t, n, "u2")

	cleared, err := f.sched.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
	assert.Empty(t, f.pusher.events)

	due, _ := f.store.ListDueReminders(context.Background(), f.now, 0)
	require.Len(t, due, 1)
	assert.Equal(t, "u2", due[0].UserID)
}

func TestStartRunsSweepOnCronSchedule(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.SweepSpec = "@every 1s"
	n := f.notification(t, models.ImportanceNormal)
	f.dueReminder(t, n, "u1")

	var wg sync.WaitGroup
	require.NoError(t, f.sched.Start(&wg))
	assert.Eventually(t, func() bool {
		due, _ := f.store.ListDueReminders(context.Background(), f.now, 0)
		return len(due) == 0
	}, 5*time.Second, 50*time.Millisecond)

	f.sched.Stop()
	wg.Wait()
	f.pusher.mu.Lock()
	defer f.pusher.mu.Unlock()
	assert.Len(t, f.pusher.events, 1)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.CleanupSpec = "every day"

	var wg sync.WaitGroup
	err := f.sched.Start(&wg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminder cleanup")
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	a := NewRedisLock(client, "notif:reminder:sweep", time.Minute)
	b := NewRedisLock(client, "notif:reminder:sweep", time.Minute)

	release, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()
}

func TestLocalLock(t *testing.T) {
	var l LocalLock
	release, ok, _ := l.TryLock(context.Background())
	require.True(t, ok)
	_, ok, _ = l.TryLock(context.Background())
	assert.False(t, ok)
	release()
	_, ok, _ = l.TryLock(context.Background())
	assert.True(t, ok)
}
