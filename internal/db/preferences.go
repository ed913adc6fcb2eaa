package db

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

// GetNotificationConfiguration loads the channel setup for an event key.
func (d *DB) GetNotificationConfiguration(ctx context.Context, key string) (models.NotificationConfiguration, error) {
	var cfg models.NotificationConfiguration
	var importance string
	err := d.Pool.QueryRow(ctx, `
	SELECT key, type, COALESCE(event_type, ''), importance, channels, COALESCE(sector_overrides, '[]'::jsonb)
	FROM notification_configurations
	WHERE key = $1`, key).Scan(
		&cfg.Key, &cfg.Type, &cfg.EventType, &importance, &cfg.Channels, &cfg.SectorOverrides,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NotificationConfiguration{}, apperrors.NewNotFound("notification configuration %s", key)
		}
		return models.NotificationConfiguration{}, fmt.Errorf("failed to get configuration %s: %w", key, err)
	}
	cfg.Importance = models.Importance(importance)
	return cfg, nil
}

// PreferencesForUsers loads global and type/event scoped preferences for all
// userIDs in one query, keyed by user.
func (d *DB) PreferencesForUsers(ctx context.Context, userIDs []string, typ, eventType string) (map[string][]models.UserNotificationPreference, error) {
	out := make(map[string][]models.UserNotificationPreference, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query, args, err := psql.
		Select("user_id", "COALESCE(type, '')", "COALESCE(event_type, '')", "enabled", "channels", "COALESCE(mandatory_channels, '{}')").
		From("user_notification_preferences").
		Where(sq.Eq{"user_id": userIDs}).
		Where(sq.Or{
			sq.Eq{"type": nil},
			sq.And{sq.Eq{"type": typ}, sq.Or{sq.Eq{"event_type": nil}, sq.Eq{"event_type": eventType}}},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build preference query: %w", err)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.UserNotificationPreference
		var channels, mandatory []string
		if err := rows.Scan(&p.UserID, &p.Type, &p.EventType, &p.Enabled, &channels, &mandatory); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		p.Channels = stringsToChannels[models.Channel](channels)
		p.MandatoryChannels = stringsToChannels[models.Channel](mandatory)
		out[p.UserID] = append(out[p.UserID], p)
	}
	return out, rows.Err()
}

// UpsertPreference stores a user's preference for its (type, event_type) scope.
func (d *DB) UpsertPreference(ctx context.Context, p models.UserNotificationPreference) error {
	_, err := d.Pool.Exec(ctx, `
	INSERT INTO user_notification_preferences (user_id, type, event_type, enabled, channels, mandatory_channels, updated_at)
	VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, NOW())
	ON CONFLICT (user_id, (COALESCE(type, '')), (COALESCE(event_type, '')))
	DO UPDATE SET enabled = EXCLUDED.enabled,
	              channels = EXCLUDED.channels,
	              mandatory_channels = EXCLUDED.mandatory_channels,
	              updated_at = NOW()`,
		p.UserID, p.Type, p.EventType, p.Enabled,
		channelsToStrings(p.Channels), channelsToStrings(p.MandatoryChannels))
	if err != nil {
		return fmt.Errorf("failed to upsert preference for user %s: %w", p.UserID, err)
	}
	return nil
}
