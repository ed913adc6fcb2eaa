package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/DavidGamba/go-getoptions"
	"github.com/redis/go-redis/v9"

	"notification-engine/internal/analytics"
	"notification-engine/internal/api"
	"notification-engine/internal/audit"
	"notification-engine/internal/config"
	"notification-engine/internal/db"
	"notification-engine/internal/dispatcher"
	"notification-engine/internal/kafka"
	"notification-engine/internal/logging"
	"notification-engine/internal/metrics"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
	"notification-engine/internal/queue"
	"notification-engine/internal/reminder"
	"notification-engine/internal/resolver"
	"notification-engine/internal/services"
	"notification-engine/internal/tracker"
	"notification-engine/pkg/email"
	"notification-engine/pkg/whatsapp"
)

type commandLineOptionValues struct {
	EnvFile     string
	LogLevel    string
	SweepOnce   bool
	CleanupOnce bool
}

func parseCommandLine() *commandLineOptionValues {
	values := &commandLineOptionValues{}
	opt := getoptions.New()

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&values.EnvFile, "env-file", ".env",
		opt.Alias("e"),
		opt.Description("path of the .env file to load"))
	opt.StringVar(&values.LogLevel, "log-level", "",
		opt.Description("overrides LOG_LEVEL"))
	opt.BoolVar(&values.SweepOnce, "sweep-once", false,
		opt.Description("process due reminders once and exit"))
	opt.BoolVar(&values.CleanupOnce, "cleanup-once", false,
		opt.Description("clear stale reminders once and exit"))

	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(1)
	}
	return values
}

func main() {
	opts := parseCommandLine()

	// Load config
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()
	metrics.Init()

	loc, err := time.LoadLocation(cfg.Reminder.Timezone)
	if err != nil {
		logger.Warnf("Unknown timezone %s, falling back to UTC: %v", cfg.Reminder.Timezone, err)
		loc = time.UTC
	}
	window, err := reminder.ParseWorkWindow(cfg.Reminder.WorkStart, cfg.Reminder.WorkEnd)
	if err != nil {
		log.Fatalf("Invalid reminder work window: %v", err)
	}

	ctx := context.Background()

	// Connect to database
	dbConn, err := db.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Errorf("Failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		log.Fatalf("Redis connection failed: %v", err)
	}
	defer rdb.Close()

	// Audit
	var sink audit.Sink = audit.NewLogSink(logger)
	var kafkaSink *audit.KafkaSink
	if !cfg.Kafka.AuditDisabled && len(cfg.Kafka.Brokers) > 0 {
		kafkaSink = audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger)
		sink = kafkaSink
	}
	recorder := audit.NewRecorder(sink, logger)

	// Delivery
	hub := providers.NewHub(logger)
	registry := buildRegistry(ctx, cfg, hub, dbConn, logger)
	alerter := providers.NewAlerter(cfg.Telegram.BotToken, cfg.Telegram.OpsChatID, cfg.Telegram.AlertPrefix, cfg.Telegram.RatePerSec, logger)
	tr := tracker.New(dbConn, recorder, logger)
	disp := dispatcher.New(dbConn, queue.NewRedisQueue(rdb, cfg.Redis.Prefix), tr, registry, alerter, logger, dispatcher.Config{
		MaxWorkers:   cfg.Notification.MaxWorkers,
		PollInterval: cfg.Notification.PollInterval,
		AttemptBase:  cfg.Dispatch.AttemptBase,
		RetryBackoff: cfg.Dispatch.RetryBackoff,
		MaxRetries:   cfg.Dispatch.MaxRetries,
	})

	// Reminders
	var lock reminder.Locker = &reminder.LocalLock{}
	if cfg.Reminder.LockMode == "redis" {
		lock = reminder.NewRedisLock(rdb, cfg.Redis.Prefix+":reminder:sweep", cfg.Reminder.LockTTL)
	}
	scheduler := reminder.New(dbConn, hub, disp, lock, recorder, logger, reminder.Config{
		Location:      loc,
		Window:        window,
		MaxPerPair:    cfg.Reminder.MaxPerPair,
		SweepInterval: cfg.Reminder.SweepInterval,
		SweepSpec:     cfg.Reminder.SweepCron,
		CleanupSpec:   cfg.Reminder.CleanupCron,
		CleanupAge:    cfg.Reminder.CleanupAge,
		Redispatch:    cfg.Reminder.Redispatch,
	})

	engine := services.New(services.Deps{
		Store:      dbConn,
		Recipients: resolver.NewRecipientResolver(dbConn, logger, loc),
		Channels:   resolver.NewChannelResolver(dbConn, logger),
		Dispatcher: disp,
		Tracker:    tr,
		Reminders:  scheduler,
		Analytics:  analytics.New(dbConn, analytics.NewRedisCache(rdb, cfg.Redis.Prefix), cfg.Analytics.CacheTTL, cfg.Reminder.Timezone, logger),
		MaxRetries: cfg.Dispatch.MaxRetries,
	}, logger)

	if opts.SweepOnce || opts.CleanupOnce {
		runOnce(ctx, engine, opts, logger)
		return
	}

	var wg sync.WaitGroup
	disp.Start(&wg)
	if err := scheduler.Start(&wg); err != nil {
		log.Fatalf("Reminder scheduler failed to start: %v", err)
	}

	var consumer *kafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.RequestTopic,
			GroupID: cfg.Kafka.GroupID,
		}, engine, logger)
		consumer.Start(&wg)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.RequestTopic)
	}

	// Start API server
	router := api.NewRouter(api.NewHandler(engine, hub, logger), logger, cfg)
	srv := &http.Server{Addr: cfg.API.Port, Handler: router}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}
	if consumer != nil {
		consumer.Close()
	}
	scheduler.Stop()
	disp.Stop()
	wg.Wait()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Errorf("Audit writer close failed: %v", err)
		}
	}
	logger.Info("Service stopped")
}

// buildRegistry wires one sender per configured channel. In-app is always on.
func buildRegistry(ctx context.Context, cfg config.Config, hub *providers.Hub, dbConn *db.DB, logger *logging.Logger) providers.Registry {
	registry := providers.Registry{
		models.ChannelInApp: providers.NewInAppSender(hub),
	}

	emailCfg := email.Config{
		Server:   cfg.Email.SMTPServer,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		FromName: cfg.Email.FromName,
	}
	if emailCfg.Valid() {
		registry[models.ChannelEmail] = providers.WithRateLimit(providers.NewEmailSender(emailCfg), cfg.Email.RatePerSec)
	} else {
		logger.Warn("Email is not configured, EMAIL deliveries will fail")
	}

	if cfg.Push.CredentialsFile != "" {
		client, err := providers.NewFirebaseClient(ctx, cfg.Push.CredentialsFile)
		if err != nil {
			logger.Errorf("Push disabled: %v", err)
		} else {
			registry[models.ChannelPush] = providers.WithRateLimit(providers.NewPushSender(client, dbConn), cfg.Push.RatePerSec)
		}
	} else {
		logger.Warn("Push is not configured, PUSH deliveries will fail")
	}

	if cfg.WhatsApp.AccountSID != "" && cfg.WhatsApp.AuthToken != "" {
		client := whatsapp.New(cfg.WhatsApp.AccountSID, cfg.WhatsApp.AuthToken, cfg.WhatsApp.FromNumber)
		registry[models.ChannelWhatsApp] = providers.WithRateLimit(providers.NewWhatsAppSender(client), cfg.WhatsApp.RatePerSec)
	} else {
		logger.Warn("WhatsApp is not configured, WHATSAPP deliveries will fail")
	}
	return registry
}

func runOnce(ctx context.Context, engine *services.Engine, opts *commandLineOptionValues, logger *logging.Logger) {
	if opts.SweepOnce {
		res, err := engine.TriggerManualProcessing(ctx)
		if err != nil {
			logger.Errorf("Reminder sweep failed: %v", err)
			os.Exit(1)
		}
		logger.Infof("Reminder sweep: processed=%d errors=%d skipped=%t", res.Processed, res.Errors, res.Skipped)
	}
	if opts.CleanupOnce {
		n, err := engine.CleanupStaleReminders(ctx, 0)
		if err != nil {
			logger.Errorf("Reminder cleanup failed: %v", err)
			os.Exit(1)
		}
		logger.Infof("Reminder cleanup cleared %d reminders", n)
	}
}
