// Command migrate applies the embedded schema migrations and exits.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Cr0nia/Cronia/internal/config"
	"github.com/Cr0nia/Cronia/internal/logging"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := store.Migrate(ctx, dbpool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
