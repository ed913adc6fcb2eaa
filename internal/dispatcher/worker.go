package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/metrics"
	"notification-engine/internal/queue"
)

// Start launches the worker pool.
func (d *Dispatcher) Start(wg *sync.WaitGroup) {
	d.wg = wg
	for i := 0; i < d.cfg.MaxWorkers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop cancels the workers; callers wait on the WaitGroup passed to Start.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// worker processes jobs until the context is cancelled.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Infof("Worker %d stopped", id)
			return
		default:
		}

		processed, err := d.ProcessNext(d.ctx)
		if err != nil {
			d.logger.Errorf("Worker %d: %v", id, err)
		}
		if processed {
			continue
		}
		select {
		case <-d.ctx.Done():
			d.logger.Infof("Worker %d stopped", id)
			return
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// ProcessNext claims and executes one job. It reports false when the queue
// had nothing runnable.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	job, err := d.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}
	d.execute(ctx, *job)
	return true, nil
}

func (d *Dispatcher) execute(ctx context.Context, job queue.Job) {
	job.Attempt++
	logger := d.logger.With(map[string]interface{}{
		"job_id":          job.ID,
		"notification_id": job.NotificationID,
		"channel":         job.Channel,
		"attempt":         job.Attempt,
	})

	if !job.Reminder {
		if _, err := d.tracker.MarkProcessing(ctx, job.NotificationID, job.Channel); err != nil {
			logger.Errorf("Failed to mark processing: %v", err)
		}
	}

	err := d.send(ctx, job)
	if err == nil {
		metrics.JobsExecuted.WithLabelValues(string(job.Channel), "delivered").Inc()
		logger.Infof("Delivered")
		return
	}

	logger.Warnf("Send failed: %v", err)
	if !job.Reminder {
		if _, markErr := d.tracker.MarkFailed(ctx, job.NotificationID, job.Channel, err.Error()); markErr != nil {
			logger.Errorf("Failed to mark failed: %v", markErr)
		}
	}

	if apperrors.IsInvalidRequest(err) || job.Exhausted() {
		d.terminal(ctx, job, err)
		return
	}

	delay := job.Backoff(d.cfg.AttemptBase)
	if !job.Reminder {
		if _, markErr := d.tracker.MarkRetrying(ctx, job.NotificationID, job.Channel, err.Error()); markErr != nil {
			logger.Errorf("Failed to mark retrying: %v", markErr)
		}
	}
	job.ID = ""
	if _, _, qErr := d.queue.Enqueue(ctx, job, delay); qErr != nil {
		logger.Errorf("Failed to requeue: %v", qErr)
		d.terminal(ctx, job, err)
		return
	}
	metrics.JobsExecuted.WithLabelValues(string(job.Channel), "retrying").Inc()
	metrics.Retries.WithLabelValues("auto").Inc()
	logger.Infof("Requeued in %s (%d/%d)", delay, job.Attempt, job.MaxAttempts)
}

// send runs the adapter and, for delivery jobs, records the success.
func (d *Dispatcher) send(ctx context.Context, job queue.Job) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return apperrors.NewInvalidRequest("%v", err)
	}
	sender, err := d.senders.Lookup(job.Channel)
	if err != nil {
		return apperrors.NewInvalidRequest("%v", err)
	}

	start := time.Now()
	out, err := sender.Send(ctx, payload)
	metrics.SendDuration.WithLabelValues(string(job.Channel)).Observe(time.Since(start).Seconds())
	if err != nil {
		if apperrors.IsInvalidRequest(err) {
			return err
		}
		return apperrors.NewDeliveryFailed("%v", err)
	}
	if !job.Reminder {
		if _, err := d.tracker.MarkDelivered(ctx, job.NotificationID, job.Channel, out.ProviderMessageID); err != nil {
			d.logger.Errorf("Failed to mark %s/%s delivered: %v", job.NotificationID, job.Channel, err)
		}
	}
	return nil
}

// terminal reports a job that will not be retried automatically.
func (d *Dispatcher) terminal(ctx context.Context, job queue.Job, cause error) {
	metrics.JobsExecuted.WithLabelValues(string(job.Channel), "failed").Inc()
	metrics.TerminalFailures.WithLabelValues(string(job.Channel)).Inc()
	d.logger.Errorf("Delivery of notification %s over %s failed terminally after %d attempts: %v",
		job.NotificationID, job.Channel, job.Attempt, cause)
	if d.alerter == nil {
		return
	}
	text := fmt.Sprintf("delivery of notification %s over %s failed after %d/%d attempts: %v",
		job.NotificationID, job.Channel, job.Attempt, job.MaxAttempts, cause)
	if err := d.alerter.Alert(ctx, text); err != nil {
		d.logger.Warnf("Ops alert failed: %v", err)
	}
}
