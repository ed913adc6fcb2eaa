package tracker

import (
	"context"
	"fmt"
	"math"
	"time"

	"notification-engine/internal/audit"
	"notification-engine/internal/db"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

const actorSystem = "system"

// Store is the persistence used by the tracker.
type Store interface {
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	UpdateDelivery(ctx context.Context, notificationID string, channel models.Channel, mutate db.DeliveryMutation) (models.Delivery, error)
	UpdateDeliveryByID(ctx context.Context, id string, mutate db.DeliveryMutation) (models.Delivery, error)
	GetDelivery(ctx context.Context, id string) (models.Delivery, error)
	ListDeliveries(ctx context.Context, notificationID string) ([]models.Delivery, error)
	ListFailedDeliveries(ctx context.Context, limit int) ([]models.Delivery, error)
	InsertSeen(ctx context.Context, notificationID, userID string, at time.Time) (bool, error)
	MarkAllSeen(ctx context.Context, userID string, at time.Time) (int64, error)
	CountSeen(ctx context.Context, notificationID string) (int, error)
	ListUnseenNotifications(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
	CountUnseenNotifications(ctx context.Context, userID string) (int, error)
}

// Tracker owns the delivery state machine and seen records.
type Tracker struct {
	store  Store
	audit  *audit.Recorder
	logger *logging.Logger
	now    func() time.Time
}

func New(store Store, recorder *audit.Recorder, logger *logging.Logger) *Tracker {
	return &Tracker{store: store, audit: recorder, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// transition wraps a status change so that every accepted change is audited.
func (t *Tracker) transition(ctx context.Context, notificationID string, channel models.Channel, to models.DeliveryStatus, apply func(d *models.Delivery, now time.Time) bool) (models.Delivery, error) {
	var from models.DeliveryStatus
	var changed bool
	dl, err := t.store.UpdateDelivery(ctx, notificationID, channel, func(d *models.Delivery, created bool) (bool, error) {
		from = d.Status
		if created {
			from = ""
		}
		changed = apply(d, t.now())
		return changed || created, nil
	})
	if err != nil {
		return dl, fmt.Errorf("failed to mark %s/%s %s: %w", notificationID, channel, to, err)
	}
	if changed && from != dl.Status {
		t.audit.Record(ctx, audit.Entry{
			Entity:   audit.EntityDelivery,
			EntityID: dl.ID,
			Field:    "status",
			Old:      string(from),
			New:      string(dl.Status),
			Actor:    actorSystem,
			Reason:   dl.ErrorMessage,
		})
	}
	return dl, nil
}

// MarkPending records that a job was queued for the pair. A delivered pair is
// left untouched.
func (t *Tracker) MarkPending(ctx context.Context, notificationID string, channel models.Channel, jobID string) (models.Delivery, error) {
	return t.transition(ctx, notificationID, channel, models.DeliveryPending, func(d *models.Delivery, _ time.Time) bool {
		if d.Status == models.DeliveryDelivered {
			return false
		}
		if d.Status != models.DeliveryRetrying {
			d.Status = models.DeliveryPending
		}
		d.SetMeta(models.MetaJobID, jobID)
		return true
	})
}

// MarkProcessing sets sentAt on the first transition into PROCESSING and
// counts the attempt.
func (t *Tracker) MarkProcessing(ctx context.Context, notificationID string, channel models.Channel) (models.Delivery, error) {
	first := false
	dl, err := t.transition(ctx, notificationID, channel, models.DeliveryProcessing, func(d *models.Delivery, now time.Time) bool {
		if d.Status == models.DeliveryDelivered {
			return false
		}
		d.Status = models.DeliveryProcessing
		if d.SentAt == nil {
			d.SentAt = &now
			first = true
		}
		d.SetMeta(models.MetaAttempts, d.Attempts()+1)
		return true
	})
	if err != nil {
		return dl, err
	}
	if first {
		if err := t.store.MarkNotificationSent(ctx, notificationID, *dl.SentAt); err != nil {
			t.logger.Warnf("Failed to stamp sent_at on notification %s: %v", notificationID, err)
		}
	}
	return dl, nil
}

// MarkDelivered is a no-op for a pair that is already DELIVERED.
func (t *Tracker) MarkDelivered(ctx context.Context, notificationID string, channel models.Channel, providerMessageID string) (models.Delivery, error) {
	return t.transition(ctx, notificationID, channel, models.DeliveryDelivered, func(d *models.Delivery, now time.Time) bool {
		if d.Status == models.DeliveryDelivered {
			return false
		}
		d.Status = models.DeliveryDelivered
		d.DeliveredAt = &now
		d.ErrorMessage = ""
		if d.SentAt == nil {
			d.SentAt = &now
		}
		if providerMessageID != "" {
			d.SetMeta(models.MetaProvider, providerMessageID)
		}
		return true
	})
}

// MarkFailed records reason. A delivered pair is never downgraded.
func (t *Tracker) MarkFailed(ctx context.Context, notificationID string, channel models.Channel, reason string) (models.Delivery, error) {
	return t.transition(ctx, notificationID, channel, models.DeliveryFailed, func(d *models.Delivery, now time.Time) bool {
		if d.Status == models.DeliveryDelivered {
			return false
		}
		d.Status = models.DeliveryFailed
		d.FailedAt = &now
		d.ErrorMessage = reason
		return true
	})
}

// MarkRetrying moves a failed pair back into the retry loop.
func (t *Tracker) MarkRetrying(ctx context.Context, notificationID string, channel models.Channel, reason string) (models.Delivery, error) {
	return t.transition(ctx, notificationID, channel, models.DeliveryRetrying, func(d *models.Delivery, _ time.Time) bool {
		if d.Status == models.DeliveryDelivered || d.Status == models.DeliveryRetrying {
			return false
		}
		d.Status = models.DeliveryRetrying
		if reason != "" {
			d.ErrorMessage = reason
		}
		return true
	})
}

// CheckRetry reports whether d may be retried once more. Only FAILED or
// RETRYING deliveries qualify; one that reached maxRetries is refused with a
// failed result and no error.
func CheckRetry(d models.Delivery, maxRetries int) (models.RetryResult, error) {
	if d.Status != models.DeliveryFailed && d.Status != models.DeliveryRetrying {
		return models.RetryResult{}, apperrors.NewInvalidRequest("delivery %s is %s; only FAILED or RETRYING deliveries can be retried", d.ID, d.Status)
	}
	count := d.RetryCount()
	if count >= maxRetries {
		return models.RetryResult{Success: false, Message: "max retries exceeded", RetryCount: count}, nil
	}
	return models.RetryResult{Success: true, Message: "retry scheduled", RetryCount: count + 1}, nil
}

// BeginRetry claims an explicit retry of deliveryID under the row lock. When
// CheckRetry refuses, the delivery is left untouched.
func (t *Tracker) BeginRetry(ctx context.Context, deliveryID string, maxRetries int) (models.Delivery, models.RetryResult, error) {
	var result models.RetryResult
	var from models.DeliveryStatus
	dl, err := t.store.UpdateDeliveryByID(ctx, deliveryID, func(d *models.Delivery, _ bool) (bool, error) {
		from = d.Status
		res, err := CheckRetry(*d, maxRetries)
		if err != nil {
			return false, err
		}
		result = res
		if !res.Success {
			return false, nil
		}
		d.SetMeta(models.MetaRetryCount, res.RetryCount)
		d.Status = models.DeliveryRetrying
		return true, nil
	})
	if err != nil {
		return dl, result, err
	}
	if result.Success {
		t.audit.Record(ctx, audit.Entry{
			Entity:   audit.EntityDelivery,
			EntityID: dl.ID,
			Field:    "status",
			Old:      string(from),
			New:      string(dl.Status),
			Actor:    actorSystem,
			Reason:   fmt.Sprintf("retry %d/%d", result.RetryCount, maxRetries),
		})
	}
	return dl, result, nil
}

func (t *Tracker) GetDelivery(ctx context.Context, id string) (models.Delivery, error) {
	return t.store.GetDelivery(ctx, id)
}

func (t *Tracker) ListDeliveries(ctx context.Context, notificationID string) ([]models.Delivery, error) {
	if _, err := t.store.GetNotification(ctx, notificationID); err != nil {
		return nil, err
	}
	return t.store.ListDeliveries(ctx, notificationID)
}

func (t *Tracker) ListFailedDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return t.store.ListFailedDeliveries(ctx, limit)
}

// MarkSeen records that userID saw notificationID. Repeated calls are no-ops.
func (t *Tracker) MarkSeen(ctx context.Context, notificationID, userID string) error {
	if userID == "" {
		return apperrors.NewInvalidRequest("user id is required")
	}
	n, err := t.store.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	if _, err := t.store.GetUser(ctx, userID); err != nil {
		return err
	}
	if !n.AddressedTo(userID) {
		return apperrors.NewNotFound("notification %s not found for user %s", notificationID, userID)
	}
	at := t.now()
	created, err := t.store.InsertSeen(ctx, notificationID, userID, at)
	if err != nil {
		return err
	}
	if created {
		t.audit.Record(ctx, audit.Entry{
			Entity:   audit.EntitySeen,
			EntityID: notificationID + ":" + userID,
			Field:    "seen_at",
			New:      at.Format(time.RFC3339),
			Actor:    userID,
		})
	}
	return nil
}

// MarkAllSeen marks every notification of userID as seen and returns how many
// records were created.
func (t *Tracker) MarkAllSeen(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperrors.NewInvalidRequest("user id is required")
	}
	n, err := t.store.MarkAllSeen(ctx, userID, t.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.audit.Record(ctx, audit.Entry{
			Entity:   audit.EntitySeen,
			EntityID: userID,
			Field:    "seen_all",
			New:      fmt.Sprintf("%d", n),
			Actor:    userID,
		})
	}
	return n, nil
}

func (t *Tracker) UnseenCount(ctx context.Context, userID string) (int, error) {
	return t.store.CountUnseenNotifications(ctx, userID)
}

func (t *Tracker) ListUnseen(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return t.store.ListUnseenNotifications(ctx, userID, limit, offset)
}

// GetDeliveryStats derives rates for notificationID. A requested channel with
// no delivery row yet counts as pending.
func (t *Tracker) GetDeliveryStats(ctx context.Context, notificationID string) (models.DeliveryStats, error) {
	n, err := t.store.GetNotification(ctx, notificationID)
	if err != nil {
		return models.DeliveryStats{}, err
	}
	deliveries, err := t.store.ListDeliveries(ctx, notificationID)
	if err != nil {
		return models.DeliveryStats{}, err
	}
	seen, err := t.store.CountSeen(ctx, notificationID)
	if err != nil {
		return models.DeliveryStats{}, err
	}

	byChannel := make(map[models.Channel]models.Delivery, len(deliveries))
	for _, d := range deliveries {
		byChannel[d.Channel] = d
	}

	stats := models.DeliveryStats{
		NotificationID: notificationID,
		TotalChannels:  len(n.Channels),
		Seen:           seen,
		Channels:       make([]models.ChannelBreakdown, 0, len(n.Channels)),
	}
	for _, ch := range n.Channels {
		row := models.ChannelBreakdown{Channel: ch, Status: models.DeliveryPending}
		if d, ok := byChannel[ch]; ok {
			row = models.ChannelBreakdown{
				Channel:      ch,
				DeliveryID:   d.ID,
				Status:       d.Status,
				SentAt:       d.SentAt,
				DeliveredAt:  d.DeliveredAt,
				FailedAt:     d.FailedAt,
				ErrorMessage: d.ErrorMessage,
				RetryCount:   d.RetryCount(),
			}
		}
		switch row.Status {
		case models.DeliveryDelivered:
			stats.Delivered++
		case models.DeliveryFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
		stats.Channels = append(stats.Channels, row)
	}

	stats.DeliveryRate = percent(stats.Delivered, stats.TotalChannels)
	stats.SeenRate = percent(stats.Seen, stats.Delivered)
	return stats, nil
}

func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 100
}
