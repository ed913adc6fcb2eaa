package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/metrics"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
	"notification-engine/internal/queue"
	"notification-engine/internal/tracker"
)

var errAlreadyDelivered = errors.New("already delivered")

// Store loads what a job needs.
type Store interface {
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Alerter reports terminal failures to operators.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type Config struct {
	MaxWorkers   int
	PollInterval time.Duration
	// AttemptBase is the first automatic backoff; later attempts double it.
	AttemptBase time.Duration
	// RetryBackoff is the explicit retry delay table; the last value repeats.
	RetryBackoff []time.Duration
	MaxRetries   int
}

// ChannelResult reports what Dispatch did for one channel.
type ChannelResult struct {
	Channel models.Channel `json:"channel"`
	JobID   string         `json:"job_id,omitempty"`
	Queued  bool           `json:"queued"`
	Error   string         `json:"error,omitempty"`
}

// Dispatcher turns notifications into queued jobs and runs the worker pool
// that executes them.
type Dispatcher struct {
	store   Store
	queue   queue.Queue
	tracker *tracker.Tracker
	senders providers.Registry
	alerter Alerter
	logger  *logging.Logger
	cfg     Config
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func New(store Store, q queue.Queue, tr *tracker.Tracker, senders providers.Registry, alerter Alerter, logger *logging.Logger, cfg Config) *Dispatcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.AttemptBase <= 0 {
		cfg.AttemptBase = 5 * time.Second
	}
	if len(cfg.RetryBackoff) == 0 {
		cfg.RetryBackoff = []time.Duration{2 * time.Minute, 5 * time.Minute, 15 * time.Minute}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   store,
		queue:   q,
		tracker: tr,
		senders: senders,
		alerter: alerter,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch enqueues one job per requested channel of notificationID. Channel
// failures are recorded on their delivery and do not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, notificationID string) ([]ChannelResult, error) {
	n, err := d.store.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.UserID == nil || *n.UserID == "" {
		return nil, apperrors.NewInvalidRequest("notification %s has no recipient", notificationID)
	}
	user, err := d.store.GetUser(ctx, *n.UserID)
	if err != nil {
		return nil, err
	}

	var delay time.Duration
	if n.ScheduledAt != nil {
		if until := n.ScheduledAt.Sub(d.now()); until > 0 {
			delay = until
		}
	}

	results := make([]ChannelResult, 0, len(n.Channels))
	for _, ch := range n.Channels {
		res, err := d.dispatchChannel(ctx, n, user, ch, delay)
		if err != nil {
			d.logger.Errorf("Dispatch of notification %s over %s failed: %v", n.ID, ch, err)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) dispatchChannel(ctx context.Context, n models.Notification, user models.User, ch models.Channel, delay time.Duration) (ChannelResult, error) {
	res := ChannelResult{Channel: ch}
	payload, err := BuildPayload(n, user, ch)
	if err != nil {
		if _, markErr := d.tracker.MarkFailed(ctx, n.ID, ch, err.Error()); markErr != nil {
			d.logger.Warnf("Failed to record build failure for %s/%s: %v", n.ID, ch, markErr)
		}
		return res, err
	}

	job, err := queue.NewJob(n.ID, user.ID, models.PriorityFor(n.Importance), payload)
	if err != nil {
		return res, err
	}
	queued, err := d.enqueue(ctx, job, delay, func(id string) error {
		dl, err := d.tracker.MarkPending(ctx, n.ID, ch, id)
		if err == nil && dl.Status == models.DeliveryDelivered {
			return errAlreadyDelivered
		}
		return err
	})
	res.JobID, res.Queued = queued.ID, queued.ID != ""
	return res, err
}

// enqueue assigns the job id, runs before with it, then queues the job. An
// empty returned job means an equivalent job was already waiting.
func (d *Dispatcher) enqueue(ctx context.Context, job queue.Job, delay time.Duration, before func(jobID string) error) (queue.Job, error) {
	job.ID = job.Key + ":" + strconv.FormatInt(d.now().UnixNano(), 10)
	if before != nil {
		if err := before(job.ID); err != nil {
			if errors.Is(err, errAlreadyDelivered) {
				d.logger.Infof("Job for %s skipped: %v", job.Key, err)
				return queue.Job{}, nil
			}
			return queue.Job{}, err
		}
	}
	stored, ok, err := d.queue.Enqueue(ctx, job, delay)
	if err != nil {
		return queue.Job{}, err
	}
	if !ok {
		d.logger.Infof("Job for %s already queued, skipping", job.Key)
		return queue.Job{}, nil
	}
	metrics.JobsEnqueued.WithLabelValues(string(job.Channel), string(job.Priority)).Inc()
	d.logger.Debugf("Queued job %s (priority=%s, delay=%s)", stored.ID, stored.Priority, delay)
	return stored, nil
}

// DispatchBatch dispatches every id, logging failures instead of returning them.
func (d *Dispatcher) DispatchBatch(ctx context.Context, ids []string) map[string][]ChannelResult {
	out := make(map[string][]ChannelResult, len(ids))
	for _, id := range ids {
		res, err := d.Dispatch(ctx, id)
		if err != nil {
			d.logger.Errorf("Dispatch of notification %s failed: %v", id, err)
			continue
		}
		out[id] = res
	}
	return out
}

// RetryBackoff returns the explicit retry delay for the n-th retry.
func (d *Dispatcher) RetryBackoff(n int) time.Duration {
	table := d.cfg.RetryBackoff
	if n < 1 {
		n = 1
	}
	if n > len(table) {
		return table[len(table)-1]
	}
	return table[n-1]
}

// RetryDelivery re-enqueues a FAILED or RETRYING delivery. maxRetries <= 0
// uses the configured maximum. The job is built before the retry is claimed,
// so a delivery that cannot be sent keeps its state and retry budget.
func (d *Dispatcher) RetryDelivery(ctx context.Context, deliveryID string, maxRetries int) (models.RetryResult, error) {
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}
	dl, err := d.tracker.GetDelivery(ctx, deliveryID)
	if err != nil {
		return models.RetryResult{}, err
	}
	res, err := tracker.CheckRetry(dl, maxRetries)
	if err != nil {
		return res, err
	}
	if !res.Success {
		d.logger.Warnf("Retry of delivery %s refused: %s (%d/%d)", deliveryID, res.Message, res.RetryCount, maxRetries)
		return res, nil
	}

	job, err := d.retryJob(ctx, dl)
	if err != nil {
		return models.RetryResult{RetryCount: dl.RetryCount()}, err
	}
	waiting, err := d.queue.Waiting(ctx, job.Key)
	if err != nil {
		return models.RetryResult{RetryCount: dl.RetryCount()}, err
	}
	if waiting {
		d.logger.Infof("Retry of delivery %s not counted: a job is already queued", deliveryID)
		return models.RetryResult{Success: false, Message: "a job is already queued", RetryCount: dl.RetryCount()}, nil
	}

	dl, res, err = d.tracker.BeginRetry(ctx, deliveryID, maxRetries)
	if err != nil {
		return res, err
	}
	if !res.Success {
		d.logger.Warnf("Retry of delivery %s refused: %s (%d/%d)", deliveryID, res.Message, res.RetryCount, maxRetries)
		return res, nil
	}

	delay := d.RetryBackoff(res.RetryCount)
	queued, err := d.enqueue(ctx, job, delay, func(id string) error {
		_, err := d.tracker.MarkPending(ctx, dl.NotificationID, dl.Channel, id)
		return err
	})
	if err != nil {
		// Claimed but not queued: park it where operators look for it.
		if _, markErr := d.tracker.MarkFailed(ctx, dl.NotificationID, dl.Channel, "retry could not be queued: "+err.Error()); markErr != nil {
			d.logger.Errorf("Failed to record retry failure for delivery %s: %v", deliveryID, markErr)
		}
		return res, err
	}
	metrics.Retries.WithLabelValues("explicit").Inc()
	if queued.ID == "" {
		res.Message = "retry counted; a job is already queued"
	} else {
		res.Message = fmt.Sprintf("retry scheduled in %s", delay)
	}
	d.logger.Infof("Delivery %s retry %d/%d: %s", deliveryID, res.RetryCount, maxRetries, res.Message)
	return res, nil
}

// retryJob rebuilds the job for an existing delivery.
func (d *Dispatcher) retryJob(ctx context.Context, dl models.Delivery) (queue.Job, error) {
	n, err := d.store.GetNotification(ctx, dl.NotificationID)
	if err != nil {
		return queue.Job{}, err
	}
	if n.UserID == nil || *n.UserID == "" {
		return queue.Job{}, apperrors.NewInvalidRequest("notification %s has no recipient", n.ID)
	}
	user, err := d.store.GetUser(ctx, *n.UserID)
	if err != nil {
		return queue.Job{}, err
	}
	payload, err := BuildPayload(n, user, dl.Channel)
	if err != nil {
		return queue.Job{}, err
	}
	return queue.NewJob(n.ID, user.ID, models.PriorityFor(n.Importance), payload)
}

// Redeliver queues reminder jobs for n over channels. Delivery rows are left
// as they are.
func (d *Dispatcher) Redeliver(ctx context.Context, n models.Notification, userID string, channels []models.Channel) error {
	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, ch := range channels {
		payload, err := BuildPayload(n, user, ch)
		if err != nil {
			d.logger.Warnf("Reminder for %s over %s skipped: %v", n.ID, ch, err)
			continue
		}
		job, err := queue.NewJob(n.ID, user.ID, models.PriorityFor(n.Importance), payload)
		if err != nil {
			return err
		}
		job.Key = job.Key + ":reminder:" + user.ID
		job.Reminder = true
		if _, err := d.enqueue(ctx, job, 0, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
