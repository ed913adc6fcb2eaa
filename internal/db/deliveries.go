package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

const deliveryColumns = `id, notification_id, channel, status, sent_at, delivered_at, failed_at,
	COALESCE(error_message, ''), COALESCE(metadata, '{}'::jsonb), created_at, updated_at`

// DeliveryMutation edits d in place and reports whether anything changed.
// created is true when the row was inserted by this call.
type DeliveryMutation func(d *models.Delivery, created bool) (bool, error)

func scanDelivery(row pgx.Row) (models.Delivery, error) {
	var dl models.Delivery
	var channel, status string
	err := row.Scan(
		&dl.ID, &dl.NotificationID, &channel, &status, &dl.SentAt, &dl.DeliveredAt, &dl.FailedAt,
		&dl.ErrorMessage, &dl.Metadata, &dl.CreatedAt, &dl.UpdatedAt,
	)
	if err != nil {
		return models.Delivery{}, err
	}
	dl.Channel = models.Channel(channel)
	dl.Status = models.DeliveryStatus(status)
	return dl, nil
}

// UpdateDelivery finds or creates the delivery row for (notificationID, channel)
// and applies mutate under a row lock.
func (d *DB) UpdateDelivery(ctx context.Context, notificationID string, channel models.Channel, mutate DeliveryMutation) (models.Delivery, error) {
	var out models.Delivery
	err := d.WithTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
		INSERT INTO notification_deliveries (id, notification_id, channel, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}'::jsonb, $5, $5)
		ON CONFLICT (notification_id, channel) DO NOTHING`,
			uuid.NewString(), notificationID, string(channel), string(models.DeliveryPending), now)
		if err != nil {
			return fmt.Errorf("failed to insert delivery: %w", err)
		}
		created := tag.RowsAffected() == 1

		dl, err := scanDelivery(tx.QueryRow(ctx, `SELECT `+deliveryColumns+`
		FROM notification_deliveries
		WHERE notification_id = $1 AND channel = $2
		FOR UPDATE`, notificationID, string(channel)))
		if err != nil {
			return fmt.Errorf("failed to lock delivery: %w", err)
		}

		changed, err := mutate(&dl, created)
		if err != nil {
			return err
		}
		if changed {
			if err := updateDeliveryRow(ctx, tx, &dl, now); err != nil {
				return err
			}
		}
		out = dl
		return nil
	})
	return out, err
}

// UpdateDeliveryByID locks an existing delivery and applies mutate.
func (d *DB) UpdateDeliveryByID(ctx context.Context, id string, mutate DeliveryMutation) (models.Delivery, error) {
	var out models.Delivery
	err := d.WithTx(ctx, func(tx pgx.Tx) error {
		dl, err := scanDelivery(tx.QueryRow(ctx, `SELECT `+deliveryColumns+`
		FROM notification_deliveries WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("delivery %s", id)
			}
			return fmt.Errorf("failed to lock delivery %s: %w", id, err)
		}

		changed, err := mutate(&dl, false)
		if err != nil {
			return err
		}
		if changed {
			if err := updateDeliveryRow(ctx, tx, &dl, time.Now().UTC()); err != nil {
				return err
			}
		}
		out = dl
		return nil
	})
	return out, err
}

func updateDeliveryRow(ctx context.Context, tx pgx.Tx, dl *models.Delivery, now time.Time) error {
	dl.UpdatedAt = now
	_, err := tx.Exec(ctx, `
	UPDATE notification_deliveries
	SET status = $1, sent_at = $2, delivered_at = $3, failed_at = $4,
	    error_message = $5, metadata = $6, updated_at = $7
	WHERE id = $8`,
		string(dl.Status), dl.SentAt, dl.DeliveredAt, dl.FailedAt,
		dl.ErrorMessage, dl.Metadata, dl.UpdatedAt, dl.ID)
	if err != nil {
		return fmt.Errorf("failed to update delivery %s: %w", dl.ID, err)
	}
	return nil
}

func (d *DB) GetDelivery(ctx context.Context, id string) (models.Delivery, error) {
	dl, err := scanDelivery(d.Pool.QueryRow(ctx, `SELECT `+deliveryColumns+`
	FROM notification_deliveries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Delivery{}, apperrors.NewNotFound("delivery %s", id)
		}
		return models.Delivery{}, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	return dl, nil
}

func (d *DB) ListDeliveries(ctx context.Context, notificationID string) ([]models.Delivery, error) {
	return d.queryDeliveries(ctx, `SELECT `+deliveryColumns+`
	FROM notification_deliveries
	WHERE notification_id = $1
	ORDER BY created_at`, notificationID)
}

func (d *DB) ListFailedDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	return d.queryDeliveries(ctx, `SELECT `+deliveryColumns+`
	FROM notification_deliveries
	WHERE status = $1
	ORDER BY failed_at DESC NULLS LAST
	LIMIT $2`, string(models.DeliveryFailed), limit)
}

func (d *DB) queryDeliveries(ctx context.Context, query string, args ...any) ([]models.Delivery, error) {
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var out []models.Delivery
	for rows.Next() {
		dl, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
