package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-engine/internal/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	q := NewRedisQueue(client, "test")
	q.now = func() time.Time { return now }
	return q, &now
}

func inAppJob(t *testing.T, notificationID string, priority models.Priority) Job {
	t.Helper()
	job, err := NewJob(notificationID, "u1", priority, models.InAppPayload{
		UserID:         "u1",
		NotificationID: notificationID,
		Title:          "Task assigned",
		Body:           "You have a new task",
	})
	require.NoError(t, err)
	return job
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, queued, err := q.Enqueue(ctx, inAppJob(t, "n1", models.PriorityNormal), 0)
	require.NoError(t, err)
	require.True(t, queued)
	assert.Equal(t, 3, job.MaxAttempts)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	payload, err := got.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, models.InAppPayload{UserID: "u1", NotificationID: "n1", Title: "Task assigned", Body: "You have a new task"}, payload)

	empty, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestEnqueueDedupesWaitingKey(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, queued, err := q.Enqueue(ctx, inAppJob(t, "n1", models.PriorityNormal), 0)
	require.NoError(t, err)
	require.True(t, queued)

	_, queued, err = q.Enqueue(ctx, inAppJob(t, "n1", models.PriorityNormal), 0)
	require.NoError(t, err)
	assert.False(t, queued)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Ready)

	key := JobKey("n1", models.ChannelInApp)
	waiting, err := q.Waiting(ctx, key)
	require.NoError(t, err)
	assert.True(t, waiting)

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	waiting, err = q.Waiting(ctx, key)
	require.NoError(t, err)
	assert.False(t, waiting)

	_, queued, err = q.Enqueue(ctx, inAppJob(t, "n1", models.PriorityNormal), 0)
	require.NoError(t, err)
	assert.True(t, queued, "key is released once the job is claimed")
}

func TestDequeueHonoursPriority(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, inAppJob(t, "low", models.PriorityLow), 0)
	require.NoError(t, err)
	*now = now.Add(time.Millisecond)
	_, _, err = q.Enqueue(ctx, inAppJob(t, "normal", models.PriorityNormal), 0)
	require.NoError(t, err)
	*now = now.Add(time.Millisecond)
	_, _, err = q.Enqueue(ctx, inAppJob(t, "critical", models.PriorityCritical), 0)
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.NotificationID)
	}
	assert.Equal(t, []string{"critical", "normal", "low"}, order)
}

func TestDelayedJobWaitsForRunAt(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	_, queued, err := q.Enqueue(ctx, inAppJob(t, "n1", models.PriorityHigh), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, queued)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 0, Delayed: 1}, stats)

	*now = now.Add(5 * time.Minute)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "n1", job.NotificationID)
}

func TestJobBackoffAndExhaustion(t *testing.T) {
	job := Job{Priority: models.PriorityLow, MaxAttempts: models.PriorityLow.MaxAttempts()}

	job.Attempt = 1
	assert.Equal(t, 5*time.Second, job.Backoff(5*time.Second))
	assert.False(t, job.Exhausted())

	job.Attempt = 2
	assert.Equal(t, 10*time.Second, job.Backoff(5*time.Second))
	assert.True(t, job.Exhausted())

	job.Attempt = 4
	assert.Equal(t, 40*time.Second, job.Backoff(5*time.Second))
}
