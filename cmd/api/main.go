/**
 * @description
 * Entry point of the credit API. It wires configuration, storage, Redis,
 * RabbitMQ and the credit service, then serves HTTP until it is signalled.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cr0nia/Cronia/internal/api"
	"github.com/Cr0nia/Cronia/internal/app"
	"github.com/Cr0nia/Cronia/internal/config"
	"github.com/Cr0nia/Cronia/internal/logging"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/Cr0nia/Cronia/pkg/rabbitmq"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, closeStore, err := openStore(ctx, &cfg, logger)
	if err != nil {
		logger.Error("unable to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service := app.NewService(repository, app.SettingsFromConfig(cfg), logger)
	service.SetMetrics(app.CreditMetrics())

	if redisClient := connectRedis(ctx, cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix))
	}

	dispatcher := app.NewOutboxDispatcher(repository, cfg.RabbitMQURL, logger)
	go dispatcher.Run(ctx)

	subscriber, err := rabbitmq.NewSubscriber(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; settlement acknowledgments disabled", "error", err)
	} else {
		defer subscriber.Close()
		settlement := service.SettlementConsumer()
		err := subscriber.Subscribe(ctx, rabbitmq.Binding{
			Exchange: cfg.EventExchange,
			Queue:    cfg.SettlementAckQueue,
			Handlers: map[string]rabbitmq.Handler{app.SettlementAckRoutingKey: settlement.HandleMessage},
		})
		if err != nil {
			logger.Error("failed to start settlement consumer", "error", err)
			os.Exit(1)
		}
		logger.Info("settlement consumer started", "queue", cfg.SettlementAckQueue)
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; consumer routes will reject every request")
	}
	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY is not set; internal routes are unauthenticated")
	}

	handler := api.NewHandler(service, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.NewRouter(handler, cfg.JWTSecret, cfg.InternalAPIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("credit api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// openStore connects to PostgreSQL and applies migrations when enabled.
// Without DATABASE_URL the API runs on an in-memory store for local
// development.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set; using in-memory storage, nothing survives a restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, dbpool); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}
	return store.NewPostgresStore(dbpool), dbpool.Close, nil
}

// connectRedis returns a connected client, or nil when Redis is not configured
// or unreachable. Draw throttling is disabled without it.
func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if redisURL == "" {
		logger.Warn("redis url missing; draw rate limiting disabled")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; draw rate limiting disabled", "error", err)
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; draw rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
