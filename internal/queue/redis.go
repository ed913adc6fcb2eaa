package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// RedisQueue keeps job bodies in a hash, future jobs in a ZSET scored by run
// time, and runnable jobs in a ZSET scored by priority then enqueue time.
type RedisQueue struct {
	client *redis.Client
	prefix string
	keyTTL time.Duration
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{
		client: client,
		prefix: prefix,
		keyTTL: 24 * time.Hour,
		now:    time.Now,
	}
}

func (q *RedisQueue) jobsKey() string    { return q.prefix + ":queue:jobs" }
func (q *RedisQueue) delayedKey() string { return q.prefix + ":queue:delayed" }
func (q *RedisQueue) readyKey() string   { return q.prefix + ":queue:ready" }
func (q *RedisQueue) activeKey(key string) string {
	return q.prefix + ":queue:active:" + key
}

// readyScore orders by priority rank, then FIFO within a rank.
func readyScore(job Job) float64 {
	return float64(job.Priority.Rank())*1e13 + float64(job.EnqueuedAt.UnixMilli())
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) (Job, bool, error) {
	now := q.now()
	job.EnqueuedAt = now
	job.RunAt = now.Add(delay)
	if job.ID == "" {
		job.ID = job.Key + ":" + strconv.FormatInt(now.UnixNano(), 10)
	}

	ok, err := q.client.SetNX(ctx, q.activeKey(job.Key), job.ID, q.keyTTL+delay).Result()
	if err != nil {
		return job, false, fmt.Errorf("failed to reserve job key %s: %w", job.Key, err)
	}
	if !ok {
		return job, false, nil
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return job, false, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobsKey(), job.ID, raw)
	if delay > 0 {
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: readyScore(job), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.client.Del(ctx, q.activeKey(job.Key))
		return job, false, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job, true, nil
}

// promote moves due delayed jobs into the ready set.
func (q *RedisQueue) promote(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}
	for _, id := range due {
		raw, err := q.client.HGet(ctx, q.jobsKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			q.client.ZRem(ctx, q.delayedKey(), id)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load delayed job %s: %w", id, err)
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.client.ZRem(ctx, q.delayedKey(), id)
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: readyScore(job), Member: id})
		pipe.ZRem(ctx, q.delayedKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to promote job %s: %w", id, err)
		}
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}

	for {
		popped, err := q.client.ZPopMin(ctx, q.readyKey(), 1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}
		if len(popped) == 0 {
			return nil, nil
		}
		id, _ := popped[0].Member.(string)

		raw, err := q.client.HGet(ctx, q.jobsKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load job %s: %w", id, err)
		}
		q.client.HDel(ctx, q.jobsKey(), id)

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
		}
		// Release the key only if it still points at this job.
		if current, err := q.client.Get(ctx, q.activeKey(job.Key)).Result(); err == nil && current == job.ID {
			q.client.Del(ctx, q.activeKey(job.Key))
		}
		return &job, nil
	}
}

func (q *RedisQueue) Waiting(ctx context.Context, key string) (bool, error) {
	n, err := q.client.Exists(ctx, q.activeKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job key %s: %w", key, err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.readyKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val()}, nil
}
