package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"notification-engine/internal/models"
)

const seenColumns = `id, notification_id, user_id, seen_at, remind_at, reminder_count, created_at, updated_at`

// SeenMutation edits rec in place. created is true when the row was inserted by
// this call.
type SeenMutation func(rec *models.SeenRecord, created bool) error

func scanSeen(row pgx.Row) (models.SeenRecord, error) {
	var rec models.SeenRecord
	err := row.Scan(&rec.ID, &rec.NotificationID, &rec.UserID, &rec.SeenAt, &rec.RemindAt,
		&rec.ReminderCount, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// InsertSeen records that userID saw notificationID. It returns false when the
// pair already had a record.
func (d *DB) InsertSeen(ctx context.Context, notificationID, userID string, at time.Time) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
	INSERT INTO notification_seen (id, notification_id, user_id, seen_at, reminder_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 0, $4, $4)
	ON CONFLICT (notification_id, user_id) DO NOTHING`,
		uuid.NewString(), notificationID, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to insert seen record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllSeen inserts seen records for every unseen notification of userID.
func (d *DB) MarkAllSeen(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `
	INSERT INTO notification_seen (id, notification_id, user_id, seen_at, reminder_count, created_at, updated_at)
	SELECT gen_random_uuid(), n.id, n.user_id, $2, 0, $2, $2
	FROM notifications n
	WHERE n.user_id = $1
	ON CONFLICT (notification_id, user_id) DO NOTHING`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all seen for user %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

func (d *DB) CountSeen(ctx context.Context, notificationID string) (int, error) {
	var count int
	err := d.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_seen WHERE notification_id = $1`,
		notificationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count seen records for %s: %w", notificationID, err)
	}
	return count, nil
}

// UpdateSeenRecord finds or creates the record for the pair and applies mutate
// under a row lock.
func (d *DB) UpdateSeenRecord(ctx context.Context, notificationID, userID string, mutate SeenMutation) (models.SeenRecord, error) {
	var out models.SeenRecord
	err := d.WithTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
		INSERT INTO notification_seen (id, notification_id, user_id, seen_at, reminder_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $4, $4)
		ON CONFLICT (notification_id, user_id) DO NOTHING`,
			uuid.NewString(), notificationID, userID, now)
		if err != nil {
			return fmt.Errorf("failed to insert seen record: %w", err)
		}
		created := tag.RowsAffected() == 1

		rec, err := scanSeen(tx.QueryRow(ctx, `SELECT `+seenColumns+`
		FROM notification_seen
		WHERE notification_id = $1 AND user_id = $2
		FOR UPDATE`, notificationID, userID))
		if err != nil {
			return fmt.Errorf("failed to lock seen record: %w", err)
		}

		if err := mutate(&rec, created); err != nil {
			return err
		}

		rec.UpdatedAt = now
		_, err = tx.Exec(ctx, `
		UPDATE notification_seen
		SET remind_at = $1, reminder_count = $2, updated_at = $3
		WHERE id = $4`, rec.RemindAt, rec.ReminderCount, rec.UpdatedAt, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to update seen record %s: %w", rec.ID, err)
		}
		out = rec
		return nil
	})
	return out, err
}

func (d *DB) GetSeenRecord(ctx context.Context, notificationID, userID string) (models.SeenRecord, bool, error) {
	rec, err := scanSeen(d.Pool.QueryRow(ctx, `SELECT `+seenColumns+`
	FROM notification_seen WHERE notification_id = $1 AND user_id = $2`, notificationID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SeenRecord{}, false, nil
		}
		return models.SeenRecord{}, false, fmt.Errorf("failed to get seen record: %w", err)
	}
	return rec, true, nil
}

// ListDueReminders returns records whose remind_at is at or before now.
func (d *DB) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.SeenRecord, error) {
	return d.querySeen(ctx, `SELECT `+seenColumns+`
	FROM notification_seen
	WHERE remind_at IS NOT NULL AND remind_at <= $1
	ORDER BY remind_at
	LIMIT $2`, now, limit)
}

func (d *DB) ListRemindersForUser(ctx context.Context, userID string) ([]models.SeenRecord, error) {
	return d.querySeen(ctx, `SELECT `+seenColumns+`
	FROM notification_seen
	WHERE user_id = $1 AND remind_at IS NOT NULL
	ORDER BY remind_at`, userID)
}

// ClearReminder nulls remind_at for id if it is still due at dueBefore. A user
// who rescheduled in the meantime keeps the new time.
func (d *DB) ClearReminder(ctx context.Context, id string, dueBefore time.Time) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
	UPDATE notification_seen
	SET remind_at = NULL, updated_at = $1
	WHERE id = $2 AND remind_at IS NOT NULL AND remind_at <= $1`, dueBefore, id)
	if err != nil {
		return false, fmt.Errorf("failed to clear reminder %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearStaleReminders nulls remind_at values that fell due before cutoff and
// were never processed.
func (d *DB) ClearStaleReminders(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `
	UPDATE notification_seen
	SET remind_at = NULL, updated_at = NOW()
	WHERE remind_at IS NOT NULL AND remind_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale reminders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReminderCounts returns scheduled (future), due, and upcoming-within counts.
func (d *DB) ReminderCounts(ctx context.Context, now time.Time, within time.Duration) (scheduled, due, upcoming int, err error) {
	err = d.Pool.QueryRow(ctx, `
	SELECT
		COUNT(*) FILTER (WHERE remind_at > $1),
		COUNT(*) FILTER (WHERE remind_at <= $1),
		COUNT(*) FILTER (WHERE remind_at > $1 AND remind_at <= $2)
	FROM notification_seen
	WHERE remind_at IS NOT NULL`, now, now.Add(within)).Scan(&scheduled, &due, &upcoming)
	if err != nil {
		err = fmt.Errorf("failed to count reminders: %w", err)
	}
	return
}

func (d *DB) querySeen(ctx context.Context, query string, args ...any) ([]models.SeenRecord, error) {
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen records: %w", err)
	}
	defer rows.Close()

	var out []models.SeenRecord
	for rows.Next() {
		rec, err := scanSeen(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan seen record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
