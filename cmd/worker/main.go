package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/investor-outreach/internal/app"
	"github.com/ignite/investor-outreach/internal/config"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
	"github.com/ignite/investor-outreach/internal/worker"
)

func main() {
	log.Println("Starting sequence worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if err := logger.InitSentry(cfg.Sentry.DSN, cfg.Environment); err != nil {
		log.Printf("Warning: sentry disabled: %v", err)
	}
	defer logger.Flush(2 * time.Second)

	// Create cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	scheduler := worker.NewScheduler(a.Processor, a.Clock, cfg.Scheduler.Interval())
	go scheduler.Start(ctx)
	go a.Sweeper.Start(ctx)

	logger.Info("worker running",
		"interval", cfg.Scheduler.Interval().String(),
		"batch_size", cfg.Scheduler.BatchSize,
		"concurrency", cfg.Scheduler.Concurrency)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker", "skipped_ticks", scheduler.Skipped())
	cancel()

	// Give an in-flight run time to release its claims
	time.Sleep(2 * time.Second)

	log.Println("Worker stopped")
}
