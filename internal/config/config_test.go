package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/notifications")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, []time.Duration{2 * time.Minute, 5 * time.Minute, 15 * time.Minute}, cfg.Dispatch.RetryBackoff)
	assert.Equal(t, "07:30", cfg.Reminder.WorkStart)
	assert.Equal(t, "18:00", cfg.Reminder.WorkEnd)
	assert.Equal(t, 3, cfg.Reminder.MaxPerPair)
	assert.Equal(t, 30*24*time.Hour, cfg.Reminder.CleanupAge)
	assert.True(t, cfg.Reminder.Redispatch)
	assert.Equal(t, "local", cfg.Reminder.LockMode)
	assert.Equal(t, "@every 1m0s", cfg.Reminder.SweepCron)
	assert.Equal(t, "0 3 * * *", cfg.Reminder.CleanupCron)
	assert.Equal(t, 10, cfg.Notification.MaxWorkers)
}

func TestLoadRedisLockNeedsAddr(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/notifications")
	t.Setenv("REMINDER_LOCK_MODE", "redis")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/notifications")
	t.Setenv("DELIVERY_RETRY_BACKOFF", "1m,3m")
	t.Setenv("REMINDER_REDISPATCH", "false")
	t.Setenv("REMINDER_SWEEP_INTERVAL", "5m")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Minute, 3 * time.Minute}, cfg.Dispatch.RetryBackoff)
	assert.False(t, cfg.Reminder.Redispatch)
	assert.Equal(t, 5*time.Minute, cfg.Reminder.SweepInterval)
	assert.Equal(t, "@every 5m0s", cfg.Reminder.SweepCron)
}

func TestLoadSweepCronOverridesInterval(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/notifications")
	t.Setenv("REMINDER_SWEEP_INTERVAL", "5m")
	t.Setenv("REMINDER_SWEEP_CRON", "*/2 7-18 * * MON-FRI")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "*/2 7-18 * * MON-FRI", cfg.Reminder.SweepCron)
}
