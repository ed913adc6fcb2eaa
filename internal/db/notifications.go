package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

const notificationColumns = `id, title, body, type, event_key, importance, channels, scheduled_at,
	action_url, action_type, user_id, sent_at, created_at, updated_at`

func scanNotification(row pgx.Row) (models.Notification, error) {
	var n models.Notification
	var channels []string
	var importance string
	err := row.Scan(
		&n.ID, &n.Title, &n.Body, &n.Type, &n.EventKey, &importance, &channels, &n.ScheduledAt,
		&n.ActionURL, &n.ActionType, &n.UserID, &n.SentAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return models.Notification{}, err
	}
	n.Importance = models.Importance(importance)
	n.Channels = stringsToChannels[models.Channel](channels)
	return n, nil
}

// CreateNotification inserts n, assigning an ID when it has none.
func (d *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	query := `
	INSERT INTO notifications (
		id, title, body, type, event_key, importance, channels, scheduled_at,
		action_url, action_type, user_id, sent_at, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := d.Pool.Exec(ctx, query,
		n.ID, n.Title, n.Body, n.Type, n.EventKey, string(n.Importance),
		channelsToStrings(n.Channels), n.ScheduledAt, n.ActionURL, n.ActionType,
		n.UserID, n.SentAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (d *DB) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(d.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Notification{}, apperrors.NewNotFound("notification %s", id)
		}
		return models.Notification{}, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return n, nil
}

// MarkNotificationSent sets sent_at once; later calls keep the first timestamp.
func (d *DB) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	query := `
	UPDATE notifications
	SET sent_at = COALESCE(sent_at, $1), updated_at = $1
	WHERE id = $2`
	if _, err := d.Pool.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	return nil
}

// ListUnseenNotifications returns notifications addressed to userID without a
// seen record, newest first.
func (d *DB) ListUnseenNotifications(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	query, args, err := psql.
		Select(notificationColumns).
		From("notifications n").
		Where(sq.Eq{"n.user_id": userID}).
		Where("NOT EXISTS (SELECT 1 FROM notification_seen s WHERE s.notification_id = n.id AND s.user_id = n.user_id)").
		OrderBy("n.created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build unseen query: %w", err)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unseen notifications for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (d *DB) CountUnseenNotifications(ctx context.Context, userID string) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM notifications n
	WHERE n.user_id = $1
	  AND NOT EXISTS (
		SELECT 1 FROM notification_seen s
		WHERE s.notification_id = n.id AND s.user_id = n.user_id
	  )`
	var count int
	if err := d.Pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unseen notifications for user %s: %w", userID, err)
	}
	return count, nil
}
