package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"notification-engine/internal/audit"
	"notification-engine/internal/db"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
)

// Store is the persistence used for reminders.
type Store interface {
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdateSeenRecord(ctx context.Context, notificationID, userID string, mutate db.SeenMutation) (models.SeenRecord, error)
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.SeenRecord, error)
	ListRemindersForUser(ctx context.Context, userID string) ([]models.SeenRecord, error)
	ClearReminder(ctx context.Context, id string, dueBefore time.Time) (bool, error)
	ClearStaleReminders(ctx context.Context, cutoff time.Time) (int64, error)
	ReminderCounts(ctx context.Context, now time.Time, within time.Duration) (scheduled, due, upcoming int, err error)
}

// Pusher sends real-time events to a connected user.
type Pusher interface {
	PushToUser(userID string, event providers.Event) (int, error)
}

// Redispatcher re-sends a notification over its external channels.
type Redispatcher interface {
	Redeliver(ctx context.Context, n models.Notification, userID string, channels []models.Channel) error
}

type Config struct {
	Location      *time.Location
	Window        WorkWindow
	MaxPerPair    int
	SweepInterval time.Duration
	// SweepSpec and CleanupSpec are cron expressions; SweepSpec defaults to
	// "@every SweepInterval".
	SweepSpec   string
	CleanupSpec string
	SweepBatch  int
	CleanupAge  time.Duration
	Redispatch  bool
}

// SweepResult summarises one processing run.
type SweepResult struct {
	Processed  int           `json:"processed"`
	Errors     int           `json:"errors"`
	Skipped    bool          `json:"skipped"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Stats is the reminder overview.
type Stats struct {
	Scheduled  int          `json:"scheduled"`
	Due        int          `json:"due"`
	Upcoming24 int          `json:"upcoming_24h"`
	Processing bool         `json:"processing"`
	LastRun    *SweepResult `json:"last_run,omitempty"`
}

// Scheduler owns the reminder lifecycle stored on seen records.
type Scheduler struct {
	store      Store
	pusher     Pusher
	redispatch Redispatcher
	lock       Locker
	audit      *audit.Recorder
	logger     *logging.Logger
	cfg        Config
	now        func() time.Time

	processing atomic.Bool
	mu         sync.Mutex
	lastRun    *SweepResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func New(store Store, pusher Pusher, redispatch Redispatcher, lock Locker, recorder *audit.Recorder, logger *logging.Logger, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Window == (WorkWindow{}) {
		cfg.Window = WorkWindow{Start: 7*60 + 30, End: 18 * 60}
	}
	if cfg.MaxPerPair <= 0 {
		cfg.MaxPerPair = 3
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = "@every " + cfg.SweepInterval.String()
	}
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = "0 3 * * *"
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = 30 * 24 * time.Hour
	}
	if lock == nil {
		lock = &LocalLock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		pusher:     pusher,
		redispatch: redispatch,
		lock:       lock,
		audit:      recorder,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Options lists the preset intervals.
func (s *Scheduler) Options() []Option {
	return Options()
}

// resolve computes the reminder instant and applies the work window unless the
// notification is urgent.
func (s *Scheduler) resolve(n models.Notification, at time.Time) (time.Time, bool) {
	if n.IsUrgent() {
		return at, false
	}
	adjusted := s.cfg.Window.Adjust(at, s.cfg.Location)
	return adjusted, !adjusted.Equal(at)
}

// Schedule sets a reminder interval from now.
func (s *Scheduler) Schedule(ctx context.Context, notificationID, userID string, interval Interval) (models.Reminder, error) {
	at, err := interval.At(s.now(), s.cfg.Location)
	if err != nil {
		return models.Reminder{}, err
	}
	return s.set(ctx, notificationID, userID, at, false)
}

// ScheduleAt sets a reminder at a caller-chosen future instant.
func (s *Scheduler) ScheduleAt(ctx context.Context, notificationID, userID string, at time.Time) (models.Reminder, error) {
	if !at.After(s.now()) {
		return models.Reminder{}, apperrors.NewInvalidRequest("reminder time %s is in the past", at.Format(time.RFC3339))
	}
	return s.set(ctx, notificationID, userID, at, false)
}

// Reschedule moves an existing reminder. It counts toward the limit.
func (s *Scheduler) Reschedule(ctx context.Context, notificationID, userID string, interval Interval) (models.Reminder, error) {
	at, err := interval.At(s.now(), s.cfg.Location)
	if err != nil {
		return models.Reminder{}, err
	}
	return s.set(ctx, notificationID, userID, at, true)
}

func (s *Scheduler) set(ctx context.Context, notificationID, userID string, at time.Time, mustExist bool) (models.Reminder, error) {
	if userID == "" {
		return models.Reminder{}, apperrors.NewInvalidRequest("user id is required")
	}
	n, err := s.recipientNotification(ctx, notificationID, userID)
	if err != nil {
		return models.Reminder{}, err
	}
	at, adjusted := s.resolve(n, at)

	var previous *time.Time
	rec, err := s.store.UpdateSeenRecord(ctx, notificationID, userID, func(rec *models.SeenRecord, _ bool) error {
		if mustExist && rec.RemindAt == nil {
			return apperrors.NewNotFound("no reminder scheduled for notification %s", notificationID)
		}
		if rec.ReminderCount >= s.cfg.MaxPerPair {
			return apperrors.NewInvalidRequest("reminder limit of %d reached for notification %s", s.cfg.MaxPerPair, notificationID)
		}
		previous = rec.RemindAt
		rec.RemindAt = &at
		rec.ReminderCount++
		return nil
	})
	if err != nil {
		return models.Reminder{}, err
	}

	entry := audit.Entry{
		Entity:   audit.EntityReminder,
		EntityID: rec.ID,
		Field:    "remind_at",
		New:      at.Format(time.RFC3339),
		Actor:    userID,
	}
	if previous != nil {
		entry.Old = previous.Format(time.RFC3339)
	}
	s.audit.Record(ctx, entry)
	s.logger.Infof("Reminder for notification %s user %s set to %s (%d/%d)",
		notificationID, userID, at.In(s.cfg.Location).Format(time.RFC3339), rec.ReminderCount, s.cfg.MaxPerPair)

	return s.view(rec, adjusted), nil
}

// recipientNotification loads notificationID and checks that userID exists
// and receives it.
func (s *Scheduler) recipientNotification(ctx context.Context, notificationID, userID string) (models.Notification, error) {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return models.Notification{}, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return models.Notification{}, err
	}
	if !n.AddressedTo(userID) {
		return models.Notification{}, apperrors.NewNotFound("notification %s not found for user %s", notificationID, userID)
	}
	return n, nil
}

// Cancel clears a scheduled reminder. It does not restore the limit.
func (s *Scheduler) Cancel(ctx context.Context, notificationID, userID string) (models.Reminder, error) {
	if userID == "" {
		return models.Reminder{}, apperrors.NewInvalidRequest("user id is required")
	}
	if _, err := s.recipientNotification(ctx, notificationID, userID); err != nil {
		return models.Reminder{}, err
	}
	var previous *time.Time
	rec, err := s.store.UpdateSeenRecord(ctx, notificationID, userID, func(rec *models.SeenRecord, _ bool) error {
		if rec.RemindAt == nil {
			return apperrors.NewNotFound("no reminder scheduled for notification %s", notificationID)
		}
		previous = rec.RemindAt
		rec.RemindAt = nil
		return nil
	})
	if err != nil {
		return models.Reminder{}, err
	}
	s.audit.Record(ctx, audit.Entry{
		Entity:   audit.EntityReminder,
		EntityID: rec.ID,
		Field:    "remind_at",
		Old:      previous.Format(time.RFC3339),
		Actor:    userID,
		Reason:   "cancelled",
	})
	return s.view(rec, false), nil
}

// List returns the pending reminders of userID.
func (s *Scheduler) List(ctx context.Context, userID string) ([]models.Reminder, error) {
	recs, err := s.store.ListRemindersForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Reminder, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.view(rec, false))
	}
	return out, nil
}

func (s *Scheduler) view(rec models.SeenRecord, adjusted bool) models.Reminder {
	remaining := s.cfg.MaxPerPair - rec.ReminderCount
	if remaining < 0 {
		remaining = 0
	}
	return models.Reminder{
		NotificationID:     rec.NotificationID,
		UserID:             rec.UserID,
		RemindAt:           rec.RemindAt,
		ReminderCount:      rec.ReminderCount,
		RemainingReminders: remaining,
		Adjusted:           adjusted,
	}
}

// Stats reports reminder counts and the last sweep.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	scheduled, due, upcoming, err := s.store.ReminderCounts(ctx, s.now(), 24*time.Hour)
	if err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *SweepResult
	if s.lastRun != nil {
		copied := *s.lastRun
		last = &copied
	}
	return Stats{
		Scheduled:  scheduled,
		Due:        due,
		Upcoming24: upcoming,
		Processing: s.processing.Load(),
		LastRun:    last,
	}, nil
}
