package config

import (
	"os"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"MIN_HEALTH_FACTOR", "LIQUIDATION_THRESHOLD", "BILLING_GRACE_PERIOD_DAYS", "BILLING_LIQUIDATION_DAYS", "DEFAULT_INTEREST_RATE_PER_CYCLE", "PORT", "SERVER_PORT"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.MinHealthFactor.Equal(decimal.RequireFromString("1.2")) {
		t.Fatalf("expected default min health factor 1.2, got %s", cfg.MinHealthFactor)
	}
	if !cfg.LiquidationThreshold.Equal(decimal.RequireFromString("1.1")) {
		t.Fatalf("expected default liquidation threshold 1.1, got %s", cfg.LiquidationThreshold)
	}
	if !cfg.DefaultInterestRate.Equal(decimal.RequireFromString("0.0299")) {
		t.Fatalf("expected default interest rate 0.0299, got %s", cfg.DefaultInterestRate)
	}
	if cfg.BillingGracePeriodDays != 15 || cfg.BillingLiquidationDays != 30 {
		t.Fatalf("expected 15/30 day billing windows, got %d/%d", cfg.BillingGracePeriodDays, cfg.BillingLiquidationDays)
	}
	if cfg.RiskMonitorJobSchedule != "*/5 * * * *" {
		t.Fatalf("unexpected risk monitor schedule %q", cfg.RiskMonitorJobSchedule)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_OverridesFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MIN_HEALTH_FACTOR", "1.5")
	setEnvWithCleanup(t, "LIQUIDATION_THRESHOLD", "1.25")
	setEnvWithCleanup(t, "BILLING_GRACE_PERIOD_DAYS", "10")
	setEnvWithCleanup(t, "BILLING_LIQUIDATION_DAYS", "20")
	setEnvWithCleanup(t, "PORT", "9191")
	setEnvWithCleanup(t, "REDIS_KEY_PREFIX", "cronia:test:")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.MinHealthFactor.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected min health factor 1.5, got %s", cfg.MinHealthFactor)
	}
	if cfg.BillingGracePeriodDays != 10 || cfg.BillingLiquidationDays != 20 {
		t.Fatalf("expected 10/20 day billing windows, got %d/%d", cfg.BillingGracePeriodDays, cfg.BillingLiquidationDays)
	}
	if cfg.ServerPort != "9191" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
	if cfg.RedisKeyPrefix != "cronia:test" {
		t.Fatalf("expected trailing colon trimmed from prefix, got %q", cfg.RedisKeyPrefix)
	}
}

func TestLoadConfig_RejectsLiquidationWindowInsideGrace(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "BILLING_GRACE_PERIOD_DAYS", "30")
	setEnvWithCleanup(t, "BILLING_LIQUIDATION_DAYS", "15")

	_, err := LoadConfig(t.TempDir())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "BILLING_LIQUIDATION_DAYS") {
		t.Fatalf("expected error to mention BILLING_LIQUIDATION_DAYS, got %v", err)
	}
}

func TestLoadConfig_RejectsInvalidThresholds(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MIN_HEALTH_FACTOR", "1.1")
	setEnvWithCleanup(t, "LIQUIDATION_THRESHOLD", "1.3")

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected error when liquidation threshold exceeds min health factor")
	}

	viper.Reset()
	setEnvWithCleanup(t, "MIN_HEALTH_FACTOR", "not-a-number")
	setEnvWithCleanup(t, "LIQUIDATION_THRESHOLD", "1.1")

	_, err := LoadConfig(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "MIN_HEALTH_FACTOR") {
		t.Fatalf("expected parse error for MIN_HEALTH_FACTOR, got %v", err)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
