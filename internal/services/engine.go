package services

import (
	"context"
	"strings"
	"time"

	"notification-engine/internal/analytics"
	"notification-engine/internal/dispatcher"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
	"notification-engine/internal/reminder"
	"notification-engine/internal/resolver"
	"notification-engine/internal/tracker"
)

// Store is what the engine reads and writes directly.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotificationConfiguration(ctx context.Context, key string) (models.NotificationConfiguration, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Engine is the public face of notification delivery and reminders. HTTP
// handlers and the Kafka intake call it; it holds no state of its own.
type Engine struct {
	store      Store
	recipients *resolver.RecipientResolver
	channels   *resolver.ChannelResolver
	dispatcher *dispatcher.Dispatcher
	tracker    *tracker.Tracker
	reminders  *reminder.Scheduler
	analytics  *analytics.Service
	maxRetries int
	logger     *logging.Logger
}

type Deps struct {
	Store      Store
	Recipients *resolver.RecipientResolver
	Channels   *resolver.ChannelResolver
	Dispatcher *dispatcher.Dispatcher
	Tracker    *tracker.Tracker
	Reminders  *reminder.Scheduler
	Analytics  *analytics.Service
	MaxRetries int
}

func New(deps Deps, logger *logging.Logger) *Engine {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = 3
	}
	return &Engine{
		store:      deps.Store,
		recipients: deps.Recipients,
		channels:   deps.Channels,
		dispatcher: deps.Dispatcher,
		tracker:    deps.Tracker,
		reminders:  deps.Reminders,
		analytics:  deps.Analytics,
		maxRetries: deps.MaxRetries,
		logger:     logger,
	}
}

func validateRequest(req *models.NotifyRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if req.Title == "" {
		return apperrors.NewInvalidRequest("title is required")
	}
	if req.Body == "" {
		return apperrors.NewInvalidRequest("body is required")
	}
	if req.Importance != "" {
		imp, err := models.ParseImportance(string(req.Importance))
		if err != nil {
			return apperrors.NewInvalidRequest("%v", err)
		}
		req.Importance = imp
	}
	channels := make([]models.Channel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		parsed, err := models.ParseChannel(string(ch))
		if err != nil {
			return apperrors.NewInvalidRequest("%v", err)
		}
		channels = append(channels, parsed)
	}
	req.Channels = channels
	if req.EventKey == "" && len(req.Channels) == 0 {
		return apperrors.NewInvalidRequest("either event_key or channels is required")
	}
	return nil
}

// Notify resolves the audience of req, creates one notification per recipient
// and dispatches each. Recipients without any enabled channel are skipped.
func (e *Engine) Notify(ctx context.Context, req models.NotifyRequest) (models.NotifyResult, error) {
	if err := validateRequest(&req); err != nil {
		return models.NotifyResult{}, err
	}

	var cfg *models.NotificationConfiguration
	if req.EventKey != "" {
		c, err := e.store.GetNotificationConfiguration(ctx, req.EventKey)
		if err != nil {
			return models.NotifyResult{}, err
		}
		cfg = &c
	}

	users, err := e.recipients.Resolve(ctx, req.Rule, req.Context)
	if err != nil {
		return models.NotifyResult{}, err
	}
	result := models.NotifyResult{NotificationIDs: []string{}, Recipients: len(users)}
	if len(users) == 0 {
		e.logger.Infof("Request %s resolved no recipients", req.RequestID)
		return result, nil
	}

	perUser := make(map[string][]models.Channel, len(users))
	if cfg != nil {
		resolved, err := e.channels.ResolveForUsers(ctx, *cfg, users)
		if err != nil {
			return models.NotifyResult{}, err
		}
		for id, rcs := range resolved {
			for _, rc := range rcs {
				if len(req.Channels) == 0 || containsChannel(req.Channels, rc.Channel) {
					perUser[id] = append(perUser[id], rc.Channel)
				}
			}
		}
	} else {
		for _, u := range users {
			perUser[u.ID] = req.Channels
		}
	}

	typ, importance := req.Type, req.Importance
	if cfg != nil {
		if typ == "" {
			typ = cfg.Type
		}
		if importance == "" {
			importance = cfg.Importance
		}
	}
	if importance == "" {
		importance = models.ImportanceNormal
	}

	for _, u := range users {
		chans := perUser[u.ID]
		if len(chans) == 0 {
			result.Skipped++
			continue
		}
		userID := u.ID
		n := models.Notification{
			Title:       req.Title,
			Body:        req.Body,
			Type:        typ,
			EventKey:    req.EventKey,
			Importance:  importance,
			Channels:    chans,
			ScheduledAt: req.ScheduledAt,
			ActionURL:   req.ActionURL,
			ActionType:  req.ActionType,
			UserID:      &userID,
		}
		if err := e.store.CreateNotification(ctx, &n); err != nil {
			return result, err
		}
		result.NotificationIDs = append(result.NotificationIDs, n.ID)

		if _, err := e.dispatcher.Dispatch(ctx, n.ID); err != nil {
			e.logger.Errorf("Dispatch of notification %s to user %s failed: %v", n.ID, u.ID, err)
		}
	}

	e.logger.Infof("Request %s created %d notifications (%d recipients, %d without channels)",
		req.RequestID, len(result.NotificationIDs), result.Recipients, result.Skipped)
	return result, nil
}

func containsChannel(list []models.Channel, c models.Channel) bool {
	for _, ch := range list {
		if ch == c {
			return true
		}
	}
	return false
}

// Resolution

func (e *Engine) ResolveRecipients(ctx context.Context, rule models.TargetingRule, rc models.ResolutionContext) ([]models.User, error) {
	return e.recipients.Resolve(ctx, rule, rc)
}

func (e *Engine) ResolveChannelsForUser(ctx context.Context, configKey, userID string) ([]models.ResolvedChannel, error) {
	cfg, err := e.store.GetNotificationConfiguration(ctx, configKey)
	if err != nil {
		return nil, err
	}
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.channels.ResolveForUser(ctx, cfg, user)
}

// Dispatch and deliveries

func (e *Engine) DispatchNotification(ctx context.Context, id string) ([]dispatcher.ChannelResult, error) {
	return e.dispatcher.Dispatch(ctx, id)
}

// RetryDelivery uses the configured maximum when maxRetries is not positive.
func (e *Engine) RetryDelivery(ctx context.Context, deliveryID string, maxRetries int) (models.RetryResult, error) {
	if maxRetries <= 0 {
		maxRetries = e.maxRetries
	}
	return e.dispatcher.RetryDelivery(ctx, deliveryID, maxRetries)
}

func (e *Engine) MarkDelivered(ctx context.Context, notificationID string, channel models.Channel) (models.Delivery, error) {
	if !channel.Valid() {
		return models.Delivery{}, apperrors.NewInvalidRequest("unknown channel %q", string(channel))
	}
	return e.tracker.MarkDelivered(ctx, notificationID, channel, "")
}

func (e *Engine) GetDelivery(ctx context.Context, id string) (models.Delivery, error) {
	return e.tracker.GetDelivery(ctx, id)
}

func (e *Engine) ListDeliveries(ctx context.Context, notificationID string) ([]models.Delivery, error) {
	return e.tracker.ListDeliveries(ctx, notificationID)
}

func (e *Engine) ListFailedDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	return e.tracker.ListFailedDeliveries(ctx, limit)
}

func (e *Engine) GetDeliveryStats(ctx context.Context, notificationID string) (models.DeliveryStats, error) {
	return e.tracker.GetDeliveryStats(ctx, notificationID)
}

// Seen tracking

func (e *Engine) MarkSeen(ctx context.Context, notificationID, userID string) error {
	return e.tracker.MarkSeen(ctx, notificationID, userID)
}

func (e *Engine) MarkAllSeen(ctx context.Context, userID string) (int64, error) {
	return e.tracker.MarkAllSeen(ctx, userID)
}

func (e *Engine) UnseenCount(ctx context.Context, userID string) (int, error) {
	return e.tracker.UnseenCount(ctx, userID)
}

func (e *Engine) ListUnseen(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	return e.tracker.ListUnseen(ctx, userID, limit, offset)
}

// Reminders

func (e *Engine) ScheduleReminder(ctx context.Context, notificationID, userID, interval string) (models.Reminder, error) {
	iv, err := reminder.ParseInterval(interval)
	if err != nil {
		return models.Reminder{}, err
	}
	return e.reminders.Schedule(ctx, notificationID, userID, iv)
}

func (e *Engine) ScheduleReminderAt(ctx context.Context, notificationID, userID string, at time.Time) (models.Reminder, error) {
	return e.reminders.ScheduleAt(ctx, notificationID, userID, at)
}

func (e *Engine) RescheduleReminder(ctx context.Context, notificationID, userID, interval string) (models.Reminder, error) {
	iv, err := reminder.ParseInterval(interval)
	if err != nil {
		return models.Reminder{}, err
	}
	return e.reminders.Reschedule(ctx, notificationID, userID, iv)
}

func (e *Engine) CancelReminder(ctx context.Context, notificationID, userID string) (models.Reminder, error) {
	return e.reminders.Cancel(ctx, notificationID, userID)
}

func (e *Engine) ListReminders(ctx context.Context, userID string) ([]models.Reminder, error) {
	return e.reminders.List(ctx, userID)
}

func (e *Engine) ReminderOptions() []reminder.Option {
	return e.reminders.Options()
}

func (e *Engine) ReminderStats(ctx context.Context) (reminder.Stats, error) {
	return e.reminders.Stats(ctx)
}

func (e *Engine) TriggerManualProcessing(ctx context.Context) (reminder.SweepResult, error) {
	return e.reminders.TriggerManualProcessing(ctx)
}

func (e *Engine) CleanupStaleReminders(ctx context.Context, maxAge time.Duration) (int64, error) {
	return e.reminders.Cleanup(ctx, maxAge)
}

// Analytics

func (e *Engine) AnalyticsOverview(ctx context.Context, r models.TimeRange) (models.AnalyticsOverview, error) {
	if e.analytics == nil {
		return models.AnalyticsOverview{}, apperrors.NewNotFound("analytics is not configured")
	}
	return e.analytics.Overview(ctx, r)
}
