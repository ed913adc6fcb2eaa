package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notification-engine/internal/audit"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/metrics"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
)

// ProcessDue re-delivers every due reminder and clears it. Overlapping runs
// are skipped.
func (s *Scheduler) ProcessDue(ctx context.Context) (SweepResult, error) {
	release, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if !ok {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		s.logger.Infof("Reminder sweep already running, skipping")
		return SweepResult{Skipped: true}, nil
	}
	defer release()

	s.processing.Store(true)
	defer s.processing.Store(false)

	result := SweepResult{StartedAt: s.now()}
	due, err := s.store.ListDueReminders(ctx, result.StartedAt, s.cfg.SweepBatch)
	if err != nil {
		return result, err
	}
	for _, rec := range due {
		if err := s.processOne(ctx, rec, result.StartedAt); err != nil {
			result.Errors++
			metrics.RemindersProcessed.WithLabelValues("error").Inc()
			s.logger.Errorf("Reminder %s (notification %s, user %s) failed: %v", rec.ID, rec.NotificationID, rec.UserID, err)
			continue
		}
		result.Processed++
		metrics.RemindersProcessed.WithLabelValues("processed").Inc()
	}
	result.FinishedAt = s.now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	s.mu.Lock()
	last := result
	s.lastRun = &last
	s.mu.Unlock()

	metrics.SweepRuns.WithLabelValues("completed").Inc()
	if len(due) > 0 {
		s.logger.Infof("Reminder sweep processed %d, errors %d in %s", result.Processed, result.Errors, result.Duration)
	}
	return result, nil
}

// TriggerManualProcessing runs a sweep now under the same guard.
func (s *Scheduler) TriggerManualProcessing(ctx context.Context) (SweepResult, error) {
	return s.ProcessDue(ctx)
}

// processOne handles a single reminder. Delivery side effects are best-effort;
// only failing to load or clear the reminder is an error.
func (s *Scheduler) processOne(ctx context.Context, rec models.SeenRecord, now time.Time) error {
	n, err := s.store.GetNotification(ctx, rec.NotificationID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			if _, clearErr := s.store.ClearReminder(ctx, rec.ID, now); clearErr != nil {
				return clearErr
			}
		}
		return err
	}

	if s.pusher != nil {
		event := providers.Event{Type: "reminder", Data: models.InAppPayload{
			UserID:         rec.UserID,
			NotificationID: n.ID,
			Title:          n.Title,
			Body:           n.Body,
			Importance:     string(n.Importance),
			ActionURL:      n.ActionURL,
			Reminder:       true,
		}}
		if _, err := s.pusher.PushToUser(rec.UserID, event); err != nil {
			s.logger.Warnf("Realtime reminder push to user %s failed: %v", rec.UserID, err)
		}
	}

	if s.cfg.Redispatch && s.redispatch != nil {
		var channels []models.Channel
		for _, ch := range n.Channels {
			if ch != models.ChannelInApp {
				channels = append(channels, ch)
			}
		}
		if len(channels) > 0 {
			if err := s.redispatch.Redeliver(ctx, n, rec.UserID, channels); err != nil {
				s.logger.Warnf("Reminder re-dispatch of %s to user %s failed: %v", n.ID, rec.UserID, err)
			}
		}
	}

	cleared, err := s.store.ClearReminder(ctx, rec.ID, now)
	if err != nil {
		return err
	}
	if cleared {
		s.audit.Record(ctx, audit.Entry{
			Entity:   audit.EntityReminder,
			EntityID: rec.ID,
			Field:    "remind_at",
			Old:      rec.RemindAt.Format(time.RFC3339),
			Actor:    "system",
			Reason:   "processed",
		})
	}
	return nil
}

// Cleanup clears reminders that fell due more than maxAge ago without
// delivering them. maxAge <= 0 uses the configured age.
func (s *Scheduler) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = s.cfg.CleanupAge
	}
	cutoff := s.now().Add(-maxAge)
	n, err := s.store.ClearStaleReminders(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.audit.Record(ctx, audit.Entry{
			Entity:   audit.EntityReminder,
			EntityID: "*",
			Field:    "remind_at",
			New:      fmt.Sprintf("%d cleared", n),
			Actor:    "system",
			Reason:   "older than " + cutoff.Format(time.RFC3339),
		})
		s.logger.Infof("Cleared %d stale reminders due before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Start registers the sweep and the cleanup on a cron runner in the reference
// timezone. It fails when either schedule does not parse.
func (s *Scheduler) Start(wg *sync.WaitGroup) error {
	cronLog := cron.PrintfLogger(s.logger)
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.cfg.SweepSpec, func() {
		if _, err := s.ProcessDue(s.ctx); err != nil {
			s.logger.Errorf("Reminder sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reminder sweep %q: %w", s.cfg.SweepSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.CleanupSpec, func() {
		if _, err := s.Cleanup(s.ctx, 0); err != nil {
			s.logger.Errorf("Reminder cleanup failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reminder cleanup %q: %w", s.cfg.CleanupSpec, err)
	}

	s.wg = wg
	s.wg.Add(1)
	c.Start()
	s.logger.Infof("Reminder scheduler started (sweep %q, cleanup %q)", s.cfg.SweepSpec, s.cfg.CleanupSpec)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		<-c.Stop().Done()
		s.logger.Infof("Reminder scheduler stopped")
	}()
	return nil
}

func (s *Scheduler) Stop() {
	s.cancel()
}
