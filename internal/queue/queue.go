package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notification-engine/internal/models"
)

// Job is one unit of delivery work: one notification over one channel.
type Job struct {
	ID             string          `json:"id"`
	Key            string          `json:"key"`
	NotificationID string          `json:"notification_id"`
	UserID         string          `json:"user_id,omitempty"`
	Channel        models.Channel  `json:"channel"`
	Priority       models.Priority `json:"priority"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	RunAt          time.Time       `json:"run_at"`

	// Reminder jobs re-send a notification without touching its delivery rows.
	Reminder bool `json:"reminder,omitempty"`
}

// JobKey identifies the (notification, channel) lineage a job belongs to.
func JobKey(notificationID string, channel models.Channel) string {
	return fmt.Sprintf("%s:%s", notificationID, channel)
}

// NewJob builds a job for payload with the attempt ceiling of priority.
func NewJob(notificationID, userID string, priority models.Priority, payload models.Payload) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to encode %s payload: %w", payload.Channel(), err)
	}
	return Job{
		Key:            JobKey(notificationID, payload.Channel()),
		NotificationID: notificationID,
		UserID:         userID,
		Channel:        payload.Channel(),
		Priority:       priority,
		MaxAttempts:    priority.MaxAttempts(),
		Payload:        raw,
	}, nil
}

// DecodePayload restores the typed payload variant.
func (j Job) DecodePayload() (models.Payload, error) {
	return models.DecodePayload(j.Channel, j.Payload)
}

// Exhausted reports whether the job has used all its attempts.
func (j Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Backoff returns the exponential delay before the next attempt.
func (j Job) Backoff(base time.Duration) time.Duration {
	if j.Attempt <= 1 {
		return base
	}
	return base * time.Duration(1<<uint(j.Attempt-1))
}

// Stats is a point-in-time view of queue depth.
type Stats struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
}

// Queue holds jobs until a worker claims them.
type Queue interface {
	// Enqueue stores job to run after delay. It reports false when a job with
	// the same key is already waiting.
	Enqueue(ctx context.Context, job Job, delay time.Duration) (Job, bool, error)
	// Dequeue claims the next runnable job, or returns nil when none is due.
	Dequeue(ctx context.Context) (*Job, error)
	// Waiting reports whether a job with key is queued and not yet claimed.
	Waiting(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}
