package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"notification-engine/internal/models"
)

func inRange(column string, r models.TimeRange) sq.And {
	return sq.And{sq.GtOrEq{column: r.From}, sq.Lt{column: r.To}}
}

func (d *DB) CountNotifications(ctx context.Context, r models.TimeRange) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("notifications").Where(inRange("created_at", r)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := d.Pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return total, nil
}

func (d *DB) NotificationsByType(ctx context.Context, r models.TimeRange) (map[string]int, error) {
	query, args, err := psql.
		Select("type", "COUNT(*)").
		From("notifications").
		Where(inRange("created_at", r)).
		GroupBy("type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build by-type query: %w", err)
	}
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group notifications by type: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan by-type row: %w", err)
		}
		out[typ] = count
	}
	return out, rows.Err()
}

func (d *DB) DeliveriesByChannel(ctx context.Context, r models.TimeRange) ([]models.ChannelStat, error) {
	query, args, err := psql.
		Select(
			"channel",
			"COUNT(*)",
			"COUNT(*) FILTER (WHERE status = 'DELIVERED')",
			"COUNT(*) FILTER (WHERE status = 'FAILED')",
		).
		From("notification_deliveries").
		Where(inRange("created_at", r)).
		GroupBy("channel").
		OrderBy("channel").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build by-channel query: %w", err)
	}
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group deliveries by channel: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelStat
	for rows.Next() {
		var s models.ChannelStat
		var channel string
		if err := rows.Scan(&channel, &s.Total, &s.Delivered, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan by-channel row: %w", err)
		}
		s.Channel = models.Channel(channel)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DailySeries buckets created notifications and delivery outcomes per day in tz.
func (d *DB) DailySeries(ctx context.Context, r models.TimeRange, tz string) ([]models.SeriesPoint, error) {
	query := `
	SELECT day, SUM(created)::int, SUM(delivered)::int, SUM(failed)::int
	FROM (
		SELECT date_trunc('day', created_at AT TIME ZONE $3) AS day,
		       COUNT(*) AS created, 0 AS delivered, 0 AS failed
		FROM notifications
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY 1
		UNION ALL
		SELECT date_trunc('day', created_at AT TIME ZONE $3),
		       0,
		       COUNT(*) FILTER (WHERE status = 'DELIVERED'),
		       COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM notification_deliveries
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY 1
	) t
	GROUP BY day
	ORDER BY day`

	rows, err := d.Pool.Query(ctx, query, r.From, r.To, tz)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily series: %w", err)
	}
	defer rows.Close()

	var out []models.SeriesPoint
	for rows.Next() {
		var p models.SeriesPoint
		if err := rows.Scan(&p.Day, &p.Created, &p.Delivered, &p.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) FailureReasons(ctx context.Context, r models.TimeRange, limit int) ([]models.FailureReason, error) {
	query, args, err := psql.
		Select("COALESCE(NULLIF(error_message, ''), 'unknown')", "COUNT(*) AS n").
		From("notification_deliveries").
		Where(sq.Eq{"status": string(models.DeliveryFailed)}).
		Where(inRange("failed_at", r)).
		GroupBy("1").
		OrderBy("n DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build failure reasons query: %w", err)
	}
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure reasons: %w", err)
	}
	defer rows.Close()

	var out []models.FailureReason
	for rows.Next() {
		var fr models.FailureReason
		if err := rows.Scan(&fr.Reason, &fr.Count); err != nil {
			return nil, fmt.Errorf("failed to scan failure reason: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// Engagement returns delivered in-app/seen counts and the mean delay to first view.
func (d *DB) Engagement(ctx context.Context, r models.TimeRange) (models.Engagement, error) {
	var e models.Engagement
	var avg *float64
	err := d.Pool.QueryRow(ctx, `
	SELECT
		(SELECT COUNT(*) FROM notification_deliveries
		  WHERE status = 'DELIVERED' AND delivered_at >= $1 AND delivered_at < $2),
		(SELECT COUNT(*) FROM notification_seen s
		  JOIN notifications n ON n.id = s.notification_id
		  WHERE n.created_at >= $1 AND n.created_at < $2),
		(SELECT AVG(EXTRACT(EPOCH FROM (s.seen_at - n.created_at)))::float8
		  FROM notification_seen s
		  JOIN notifications n ON n.id = s.notification_id
		  WHERE n.created_at >= $1 AND n.created_at < $2),
		(SELECT COALESCE(SUM(s.reminder_count), 0)::int FROM notification_seen s
		  JOIN notifications n ON n.id = s.notification_id
		  WHERE n.created_at >= $1 AND n.created_at < $2)`,
		r.From, r.To).Scan(&e.Delivered, &e.Seen, &avg, &e.RemindersSet)
	if err != nil {
		return models.Engagement{}, fmt.Errorf("failed to query engagement: %w", err)
	}
	if avg != nil {
		e.AvgSecondsToSeen = *avg
	}
	return e, nil
}
