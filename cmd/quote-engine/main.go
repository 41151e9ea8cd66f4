// cmd/quote-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"partner-portal-engine/internal/common/aws"
	"partner-portal-engine/internal/common/clock"
	"partner-portal-engine/internal/common/config"
	"partner-portal-engine/internal/common/database"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/common/observability"
	"partner-portal-engine/internal/engine"
	"partner-portal-engine/internal/notify"
	"partner-portal-engine/internal/storage"
	"partner-portal-engine/internal/sweep"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting quote engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	jaegerEndpoint := ""
	if cfg.Tracing.Enabled {
		jaegerEndpoint = cfg.Tracing.Endpoint
	}
	obs := observability.New(cfg.App.Name, jaegerEndpoint)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Delivery Gateways ---
	var (
		sesClient notify.SESAPI
		snsClient notify.SNSAPI
	)
	if cfg.Notifications.Email.Enabled {
		client, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("SES client initialization failed", zap.Error(err))
		}
		sesClient = client
	}
	if cfg.Notifications.SMS.Enabled {
		client, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("SNS client initialization failed", zap.Error(err))
		}
		snsClient = client
	}
	zapLog.Info("Delivery gateways initialized")

	// --- Init Template Registry ---
	registry := notify.NewRegistry()
	if cfg.Notifications.TemplateRegistry != "" {
		loaded, err := notify.LoadRegistry(cfg.Notifications.TemplateRegistry)
		if err != nil {
			zapLog.Warn("template registry load failed, using built-in templates", zap.Error(err))
		} else {
			registry = loaded
			zapLog.Info("Template registry loaded",
				zap.String("path", cfg.Notifications.TemplateRegistry))
		}
	}

	// --- Wire Stores, Dispatcher, Engine, Sweep ---
	clk := clock.NewSystem()
	quoteStore := storage.NewPostgresQuoteStore(pg.DB, clk, log)
	notificationStore := storage.NewNotificationStore(
		pg.DB, redis.Client,
		time.Duration(cfg.Sweep.UnreadCacheTTLMinutes)*time.Minute,
		clk, log,
	)

	dispatcher := notify.NewDispatcher(
		notify.Config{
			EmailEnabled:  cfg.Notifications.Email.Enabled,
			SMSEnabled:    cfg.Notifications.SMS.Enabled,
			FromEmail:     cfg.Notifications.Email.FromEmail,
			ActionURLBase: cfg.Notifications.ActionURLBase,
		},
		quoteStore, notificationStore, sesClient, snsClient, registry, log,
	)

	eng := engine.New(quoteStore, dispatcher, clk, log)

	scheduler := sweep.New(
		sweep.Config{
			Interval:      time.Duration(cfg.Sweep.IntervalMinutes) * time.Minute,
			WarningWindow: time.Duration(cfg.Sweep.WarningWindowHours) * time.Hour,
			ItemTimeout:   time.Duration(cfg.Sweep.ItemTimeoutSeconds) * time.Second,
			Concurrency:   cfg.Sweep.FanOutConcurrency,
		},
		quoteStore, dispatcher, clk, obs, log,
	)
	scheduler.Start(ctx)
	zapLog.Info("Sweep scheduler started",
		zap.Int("intervalMinutes", cfg.Sweep.IntervalMinutes),
		zap.Int("warningWindowHours", cfg.Sweep.WarningWindowHours),
	)

	// --- Health, Metrics & Hooks Server ---
	if cfg.Metrics.Enabled {
		go func() {
			hooks := &hookServer{engine: eng, scheduler: scheduler, logger: log}
			hooks.register(http.DefaultServeMux)

			http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "healthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				status := "ready"
				code := http.StatusOK
				if !scheduler.IsRunning() {
					status = "not ready"
					code = http.StatusServiceUnavailable
				}
				w.WriteHeader(code)
				json.NewEncoder(w).Encode(map[string]string{
					"status": status,
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.Handle("/metrics", promhttp.Handler())
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping sweep scheduler...")
	scheduler.Stop()
	zapLog.Info("Quote engine stopped")
}
