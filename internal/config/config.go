/**
 * @description
 * This package handles the configuration management for the credit core. It uses
 * Viper to read settings from environment variables and an optional .env file,
 * applies the risk and billing defaults, and validates the result.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 * - github.com/shopspring/decimal: risk thresholds and interest rates.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the api and keeper binaries.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	EventExchange          string `mapstructure:"EVENT_EXCHANGE"`
	SettlementAckQueue     string `mapstructure:"SETTLEMENT_ACK_QUEUE"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix         string `mapstructure:"REDIS_KEY_PREFIX"`
	DrawRateLimitPerMinute int    `mapstructure:"DRAW_RATE_LIMIT_PER_MINUTE"`
	JWTSecret              string `mapstructure:"JWT_SECRET"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	BillingJobSchedule     string `mapstructure:"BILLING_JOB_SCHEDULE"`
	RiskMonitorJobSchedule string `mapstructure:"RISK_MONITOR_JOB_SCHEDULE"`
	LiquidationJobSchedule string `mapstructure:"LIQUIDATION_JOB_SCHEDULE"`
	SweepLockTTLSeconds    int    `mapstructure:"SWEEP_LOCK_TTL_SECONDS"`
	BillingGracePeriodDays int    `mapstructure:"BILLING_GRACE_PERIOD_DAYS"`
	BillingLiquidationDays int    `mapstructure:"BILLING_LIQUIDATION_DAYS"`
	BillingCycleDueDay     int    `mapstructure:"BILLING_CYCLE_DUE_DAY"`
	DrawSessionTTLMinutes  int    `mapstructure:"DRAW_SESSION_TTL_MINUTES"`
	BusinessTimezone       string `mapstructure:"BUSINESS_TIMEZONE"`
	ConflictMaxRetries     int    `mapstructure:"CONFLICT_MAX_RETRIES"`
	AutoMigrate            bool   `mapstructure:"AUTO_MIGRATE"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`
	LogFile                string `mapstructure:"LOG_FILE"`

	RawMinHealthFactor      string `mapstructure:"MIN_HEALTH_FACTOR"`
	RawLiquidationThreshold string `mapstructure:"LIQUIDATION_THRESHOLD"`
	RawDefaultInterestRate  string `mapstructure:"DEFAULT_INTEREST_RATE_PER_CYCLE"`

	MinHealthFactor      decimal.Decimal `mapstructure:"-"`
	LiquidationThreshold decimal.Decimal `mapstructure:"-"`
	DefaultInterestRate  decimal.Decimal `mapstructure:"-"`
}

var keys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"RABBITMQ_URL",
	"EVENT_EXCHANGE",
	"SETTLEMENT_ACK_QUEUE",
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	"DRAW_RATE_LIMIT_PER_MINUTE",
	"JWT_SECRET",
	"INTERNAL_API_KEY",
	"BILLING_JOB_SCHEDULE",
	"RISK_MONITOR_JOB_SCHEDULE",
	"LIQUIDATION_JOB_SCHEDULE",
	"SWEEP_LOCK_TTL_SECONDS",
	"BILLING_GRACE_PERIOD_DAYS",
	"BILLING_LIQUIDATION_DAYS",
	"BILLING_CYCLE_DUE_DAY",
	"DRAW_SESSION_TTL_MINUTES",
	"BUSINESS_TIMEZONE",
	"CONFLICT_MAX_RETRIES",
	"AUTO_MIGRATE",
	"LOG_LEVEL",
	"LOG_FILE",
	"MIN_HEALTH_FACTOR",
	"LIQUIDATION_THRESHOLD",
	"DEFAULT_INTEREST_RATE_PER_CYCLE",
}

// LoadConfig reads configuration from the environment and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "cronia.events")
	viper.SetDefault("SETTLEMENT_ACK_QUEUE", "cronia.settlement_acks")
	viper.SetDefault("REDIS_KEY_PREFIX", "cronia")
	viper.SetDefault("DRAW_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("BILLING_JOB_SCHEDULE", "0 0 * * *")        // Daily at 00:00.
	viper.SetDefault("RISK_MONITOR_JOB_SCHEDULE", "*/5 * * * *") // Every 5 minutes.
	viper.SetDefault("LIQUIDATION_JOB_SCHEDULE", "0 * * * *")    // Hourly.
	viper.SetDefault("SWEEP_LOCK_TTL_SECONDS", 900)
	viper.SetDefault("BILLING_GRACE_PERIOD_DAYS", 15)
	viper.SetDefault("BILLING_LIQUIDATION_DAYS", 30)
	viper.SetDefault("BILLING_CYCLE_DUE_DAY", 1)
	viper.SetDefault("DRAW_SESSION_TTL_MINUTES", 30)
	viper.SetDefault("BUSINESS_TIMEZONE", "UTC")
	viper.SetDefault("CONFLICT_MAX_RETRIES", 8)
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MIN_HEALTH_FACTOR", "1.2")
	viper.SetDefault("LIQUIDATION_THRESHOLD", "1.1")
	viper.SetDefault("DEFAULT_INTEREST_RATE_PER_CYCLE", "0.0299")

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "cronia"
	}

	if config.MinHealthFactor, err = parseDecimal("MIN_HEALTH_FACTOR", config.RawMinHealthFactor); err != nil {
		return
	}
	if config.LiquidationThreshold, err = parseDecimal("LIQUIDATION_THRESHOLD", config.RawLiquidationThreshold); err != nil {
		return
	}
	if config.DefaultInterestRate, err = parseDecimal("DEFAULT_INTEREST_RATE_PER_CYCLE", config.RawDefaultInterestRate); err != nil {
		return
	}

	err = config.Validate()
	return
}

func parseDecimal(key, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

// Validate checks the cross-field constraints of the risk and billing settings.
func (c Config) Validate() error {
	if !c.MinHealthFactor.IsPositive() || !c.LiquidationThreshold.IsPositive() {
		return fmt.Errorf("MIN_HEALTH_FACTOR and LIQUIDATION_THRESHOLD must be positive")
	}
	if c.LiquidationThreshold.GreaterThan(c.MinHealthFactor) {
		return fmt.Errorf("LIQUIDATION_THRESHOLD (%s) must not exceed MIN_HEALTH_FACTOR (%s)", c.LiquidationThreshold, c.MinHealthFactor)
	}
	if c.DefaultInterestRate.IsNegative() {
		return fmt.Errorf("DEFAULT_INTEREST_RATE_PER_CYCLE must not be negative")
	}
	if c.BillingGracePeriodDays < 0 {
		return fmt.Errorf("BILLING_GRACE_PERIOD_DAYS must not be negative")
	}
	if c.BillingLiquidationDays <= c.BillingGracePeriodDays {
		return fmt.Errorf("BILLING_LIQUIDATION_DAYS (%d) must be greater than BILLING_GRACE_PERIOD_DAYS (%d)", c.BillingLiquidationDays, c.BillingGracePeriodDays)
	}
	if c.BillingCycleDueDay < 1 || c.BillingCycleDueDay > 28 {
		return fmt.Errorf("BILLING_CYCLE_DUE_DAY must be between 1 and 28, got %d", c.BillingCycleDueDay)
	}
	if c.DrawSessionTTLMinutes <= 0 {
		return fmt.Errorf("DRAW_SESSION_TTL_MINUTES must be positive")
	}
	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return nil
}

// Location returns the business timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
