package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

// Store exposes the aggregate queries.
type Store interface {
	CountNotifications(ctx context.Context, r models.TimeRange) (int, error)
	NotificationsByType(ctx context.Context, r models.TimeRange) (map[string]int, error)
	DeliveriesByChannel(ctx context.Context, r models.TimeRange) ([]models.ChannelStat, error)
	DailySeries(ctx context.Context, r models.TimeRange, tz string) ([]models.SeriesPoint, error)
	FailureReasons(ctx context.Context, r models.TimeRange, limit int) ([]models.FailureReason, error)
	Engagement(ctx context.Context, r models.TimeRange) (models.Engagement, error)
}

const (
	defaultRange = 30 * 24 * time.Hour
	topFailures  = 10
	defaultTTL   = time.Minute
)

type Service struct {
	store    Store
	cache    Cache
	ttl      time.Duration
	timezone string
	logger   *logging.Logger
	now      func() time.Time
}

// New returns the analytics service. cache may be nil.
func New(store Store, cache Cache, ttl time.Duration, timezone string, logger *logging.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &Service{store: store, cache: cache, ttl: ttl, timezone: timezone, logger: logger, now: time.Now}
}

// Overview aggregates the range. A zero range means the last 30 days.
func (s *Service) Overview(ctx context.Context, r models.TimeRange) (models.AnalyticsOverview, error) {
	if r.To.IsZero() {
		r.To = s.now().UTC().Truncate(time.Minute)
	}
	if r.From.IsZero() {
		r.From = r.To.Add(-defaultRange)
	}
	if !r.From.Before(r.To) {
		return models.AnalyticsOverview{}, apperrors.NewInvalidRequest("range start %s must be before end %s",
			r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}

	key := fmt.Sprintf("overview:%d:%d", r.From.Unix(), r.To.Unix())
	if s.cache != nil {
		var cached models.AnalyticsOverview
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warnf("Analytics cache read failed: %v", err)
		}
	}

	out, err := s.compute(ctx, r)
	if err != nil {
		return models.AnalyticsOverview{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out, s.ttl); err != nil {
			s.logger.Warnf("Analytics cache write failed: %v", err)
		}
	}
	return out, nil
}

func (s *Service) compute(ctx context.Context, r models.TimeRange) (models.AnalyticsOverview, error) {
	out := models.AnalyticsOverview{Range: r, GeneratedAt: s.now().UTC()}
	var err error

	if out.Total, err = s.store.CountNotifications(ctx, r); err != nil {
		return out, err
	}
	if out.ByType, err = s.store.NotificationsByType(ctx, r); err != nil {
		return out, err
	}
	if out.ByChannel, err = s.store.DeliveriesByChannel(ctx, r); err != nil {
		return out, err
	}
	for i := range out.ByChannel {
		out.ByChannel[i].Rate = rate(out.ByChannel[i].Delivered, out.ByChannel[i].Total)
	}
	if out.Series, err = s.store.DailySeries(ctx, r, s.timezone); err != nil {
		return out, err
	}
	if out.FailureReasons, err = s.store.FailureReasons(ctx, r, topFailures); err != nil {
		return out, err
	}
	if out.Engagement, err = s.store.Engagement(ctx, r); err != nil {
		return out, err
	}
	out.Engagement.SeenRate = rate(out.Engagement.Seen, out.Engagement.Delivered)
	out.Engagement.AvgSecondsToSeen = math.Round(out.Engagement.AvgSecondsToSeen*100) / 100
	return out, nil
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}
