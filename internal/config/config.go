package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port     string
		BasePath string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
	Kafka struct {
		Brokers       []string
		RequestTopic  string
		AuditTopic    string
		GroupID       string
		AuditDisabled bool
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
		RatePerSec int
	}
	Push struct {
		CredentialsFile string
		RatePerSec      int
	}
	WhatsApp struct {
		AccountSID string
		AuthToken  string
		FromNumber string
		RatePerSec int
	}
	Telegram struct {
		BotToken    string
		OpsChatID   int64
		RatePerSec  int
		AlertPrefix string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Notification struct {
		QueueSize    int
		MaxWorkers   int
		PollInterval time.Duration
	}
	Dispatch struct {
		MaxRetries   int
		RetryBackoff []time.Duration
		AttemptBase  time.Duration
	}
	Reminder struct {
		Timezone      string
		WorkStart     string
		WorkEnd       string
		MaxPerPair    int
		SweepInterval time.Duration
		SweepCron     string
		CleanupCron   string
		CleanupAge    time.Duration
		Redispatch    bool
		LockMode      string
		LockTTL       time.Duration
	}
	Analytics struct {
		CacheTTL time.Duration
	}
}

// Load reads environment variables (and envFile when present), applies defaults,
// and returns a Config.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Redis
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = intEnv("REDIS_DB", 0)
	cfg.Redis.Prefix = os.Getenv("REDIS_PREFIX")

	// Kafka settings
	cfg.Kafka.Brokers = listEnv("KAFKA_BROKERS")
	cfg.Kafka.RequestTopic = os.Getenv("KAFKA_REQUEST_TOPIC")
	cfg.Kafka.AuditTopic = os.Getenv("KAFKA_AUDIT_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")
	cfg.Kafka.AuditDisabled = boolEnv("KAFKA_AUDIT_DISABLED", false)

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = intEnv("EMAIL_SMTP_PORT", 0)
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")
	cfg.Email.RatePerSec = intEnv("EMAIL_RATE_LIMIT", 10)

	// Push
	cfg.Push.CredentialsFile = os.Getenv("PUSH_CREDENTIALS_FILE")
	cfg.Push.RatePerSec = intEnv("PUSH_RATE_LIMIT", 50)

	// WhatsApp
	cfg.WhatsApp.AccountSID = os.Getenv("WHATSAPP_ACCOUNT_SID")
	cfg.WhatsApp.AuthToken = os.Getenv("WHATSAPP_AUTH_TOKEN")
	cfg.WhatsApp.FromNumber = os.Getenv("WHATSAPP_FROM_NUMBER")
	cfg.WhatsApp.RatePerSec = intEnv("WHATSAPP_RATE_LIMIT", 5)

	// Telegram operator alerts
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_OPS_CHAT_ID"), 10, 64); err == nil {
		cfg.Telegram.OpsChatID = id
	}
	cfg.Telegram.RatePerSec = intEnv("TELEGRAM_RATE_LIMIT", 1)
	cfg.Telegram.AlertPrefix = os.Getenv("TELEGRAM_ALERT_PREFIX")

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Notification worker settings
	cfg.Notification.QueueSize = intEnv("QUEUE_SIZE", 0)
	cfg.Notification.MaxWorkers = intEnv("MAX_WORKERS", 0)
	cfg.Notification.PollInterval = durationEnv("QUEUE_POLL_INTERVAL", 0)

	// Dispatch
	cfg.Dispatch.MaxRetries = intEnv("DELIVERY_MAX_RETRIES", 0)
	cfg.Dispatch.AttemptBase = durationEnv("DELIVERY_ATTEMPT_BACKOFF", 0)
	for _, raw := range listEnv("DELIVERY_RETRY_BACKOFF") {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Dispatch.RetryBackoff = append(cfg.Dispatch.RetryBackoff, d)
		}
	}

	// Reminders
	cfg.Reminder.Timezone = os.Getenv("REMINDER_TIMEZONE")
	cfg.Reminder.WorkStart = os.Getenv("REMINDER_WORK_START")
	cfg.Reminder.WorkEnd = os.Getenv("REMINDER_WORK_END")
	cfg.Reminder.MaxPerPair = intEnv("REMINDER_MAX_PER_NOTIFICATION", 0)
	cfg.Reminder.SweepInterval = durationEnv("REMINDER_SWEEP_INTERVAL", 0)
	cfg.Reminder.SweepCron = os.Getenv("REMINDER_SWEEP_CRON")
	cfg.Reminder.CleanupCron = os.Getenv("REMINDER_CLEANUP_CRON")
	cfg.Reminder.CleanupAge = durationEnv("REMINDER_CLEANUP_AGE", 0)
	cfg.Reminder.Redispatch = boolEnv("REMINDER_REDISPATCH", true)
	cfg.Reminder.LockMode = os.Getenv("REMINDER_LOCK_MODE")
	cfg.Reminder.LockTTL = durationEnv("REMINDER_LOCK_TTL", 0)

	// Analytics
	cfg.Analytics.CacheTTL = durationEnv("ANALYTICS_CACHE_TTL", 0)

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Reminder.LockMode == "redis" && cfg.Redis.Addr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v1"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "notif"
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = "notification.requested"
	}
	if cfg.Kafka.AuditTopic == "" {
		cfg.Kafka.AuditTopic = "notification.changelog"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "notification-engine"
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = "Notifications"
	}
	if cfg.Telegram.AlertPrefix == "" {
		cfg.Telegram.AlertPrefix = "[notification-engine]"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Notification.QueueSize == 0 {
		cfg.Notification.QueueSize = 500
	}
	if cfg.Notification.MaxWorkers == 0 {
		cfg.Notification.MaxWorkers = 10
	}
	if cfg.Notification.PollInterval == 0 {
		cfg.Notification.PollInterval = time.Second
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if len(cfg.Dispatch.RetryBackoff) == 0 {
		cfg.Dispatch.RetryBackoff = []time.Duration{2 * time.Minute, 5 * time.Minute, 15 * time.Minute}
	}
	if cfg.Dispatch.AttemptBase == 0 {
		cfg.Dispatch.AttemptBase = 5 * time.Second
	}
	if cfg.Reminder.Timezone == "" {
		cfg.Reminder.Timezone = "America/Sao_Paulo"
	}
	if cfg.Reminder.WorkStart == "" {
		cfg.Reminder.WorkStart = "07:30"
	}
	if cfg.Reminder.WorkEnd == "" {
		cfg.Reminder.WorkEnd = "18:00"
	}
	if cfg.Reminder.MaxPerPair == 0 {
		cfg.Reminder.MaxPerPair = 3
	}
	if cfg.Reminder.SweepInterval == 0 {
		cfg.Reminder.SweepInterval = time.Minute
	}
	if cfg.Reminder.SweepCron == "" {
		cfg.Reminder.SweepCron = "@every " + cfg.Reminder.SweepInterval.String()
	}
	if cfg.Reminder.CleanupCron == "" {
		cfg.Reminder.CleanupCron = "0 3 * * *"
	}
	if cfg.Reminder.CleanupAge == 0 {
		cfg.Reminder.CleanupAge = 30 * 24 * time.Hour
	}
	if cfg.Reminder.LockMode == "" {
		cfg.Reminder.LockMode = "local"
	}
	if cfg.Reminder.LockTTL == 0 {
		cfg.Reminder.LockTTL = 5 * time.Minute
	}
	if cfg.Analytics.CacheTTL == 0 {
		cfg.Analytics.CacheTTL = time.Minute
	}
}

func intEnv(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func boolEnv(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func listEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
