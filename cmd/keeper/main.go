/**
 * @description
 * Entry point of the keeper, a non-HTTP process that runs the billing, risk
 * monitor and liquidation sweeps on their cron schedules.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cr0nia/Cronia/internal/app"
	"github.com/Cr0nia/Cronia/internal/config"
	"github.com/Cr0nia/Cronia/internal/logging"
	"github.com/Cr0nia/Cronia/internal/scheduler"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)

	ctx := context.Background()

	dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	service := app.NewService(store.NewPostgresStore(dbpool), app.SettingsFromConfig(cfg), logger)
	service.SetMetrics(app.CreditMetrics())

	var locker scheduler.Locker
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis url parse failed; sweeps run without a fleet lock", "error", err)
		} else {
			redisClient := redis.NewClient(options)
			defer redisClient.Close()
			locker = scheduler.NewRedisSweepLock(redisClient, cfg.RedisKeyPrefix)
			logger.Info("sweep lock enabled")
		}
	}

	jobs := scheduler.NewJobs(service, locker, time.Duration(cfg.SweepLockTTLSeconds)*time.Second, logger)
	cronScheduler := scheduler.NewScheduler(jobs, logger, scheduler.Schedules{
		Billing:     cfg.BillingJobSchedule,
		RiskMonitor: cfg.RiskMonitorJobSchedule,
		Liquidation: cfg.LiquidationJobSchedule,
	})

	cronScheduler.Start()
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := cronScheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}
