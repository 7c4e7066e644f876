package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"yardhop/internal/util"
	"yardhop/pkg/mailer"
	"yardhop/services/worker/internal/app"
	"yardhop/services/worker/internal/config"
)

func main() {
	// .env from the service dir, the services dir, or the repo root.
	_ = godotenv.Overload(".env", "../.env", "../../.env")

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("FATAL: failed to load config: %v", err)
	}
	sweepInterval, err := config.ParseInterval("promotionSweepInterval", cfg.PromotionSweepInterval)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	flushInterval, err := config.ParseInterval("viewFlushInterval", cfg.ViewFlushInterval)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	logger := util.InitLogger("worker", cfg.LogLevel)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	appCfg := app.Config{
		DatabaseURL:            cfg.DatabaseURL,
		RedisClient:            redisClient,
		QueueName:              cfg.DigestQueueName,
		QueueGroup:             cfg.DigestQueueGroup,
		DigestConcurrency:      cfg.DigestConcurrency,
		DigestRadiusKm:         cfg.DigestRadiusKm,
		SiteBaseURL:            cfg.SiteBaseURL,
		PromotionSweepInterval: sweepInterval,
		ViewFlushInterval:      flushInterval,
	}
	if cfg.MailerBaseURL != "" {
		appCfg.Mailer = mailer.NewHTTPMailer(cfg.MailerBaseURL, cfg.MailerAPIKey, cfg.MailerFrom)
	}

	worker, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("FATAL: failed to init worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutdown signal received")
		cancel()
	}()

	slog.Info("worker running",
		"queue", cfg.DigestQueueName,
		"concurrency", cfg.DigestConcurrency,
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker error", "err", err)
	}
}
