package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds process-wide settings loaded once at startup from the
// environment (with .env support via godotenv in cmd/engine). Per-user,
// per-sport, and per-account settings live in the store (SportConfig,
// GlobalSettings, Account) and are not part of this struct.
type Config struct {
	Debug bool

	DatabaseURL  string
	DatabaseKind string // "postgres" or "sqlite"

	ControlSocketPath string

	TelegramBotToken string
	TelegramChatID   int64
	NotifyWebhookURL string

	SportsFeedBaseURL string

	ClobRestBaseURL string
	EvmClobBaseURL  string
	EvmClobWSURL    string

	DryRun bool

	DiscoveryIntervalBase time.Duration
	EvaluationInterval    time.Duration
	MonitorInterval       time.Duration
	ReconcileInterval     time.Duration

	DefaultMinConfidence   decimal.Decimal
	DefaultMaxSlippagePct  decimal.Decimal
	DefaultFractionalKelly decimal.Decimal

	AdapterWorkerPoolSize int
	AdapterRateLimitRPS   int

	SportsConfigPath string
}

// Load builds a Config from the current environment, applying the same
// fallback-default pattern the teacher's internal/config uses.
func Load() (*Config, error) {
	cfg := &Config{
		Debug: envBool("DEBUG", false),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabaseKind: envString("DATABASE_KIND", "sqlite"),

		ControlSocketPath: envString("CONTROL_SOCKET_PATH", "/tmp/engine.sock"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   envInt64("TELEGRAM_CHAT_ID", 0),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),

		SportsFeedBaseURL: envString("SPORTS_FEED_BASE_URL", "https://site.api.espn.com/apis/site/v2/sports"),

		ClobRestBaseURL: envString("CLOB_REST_BASE_URL", "https://trading-api.kalshi.com/trade-api/v2"),
		EvmClobBaseURL:  envString("EVM_CLOB_BASE_URL", "https://clob.polymarket.com"),
		EvmClobWSURL:    envString("EVM_CLOB_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws"),

		DryRun: envBool("DRY_RUN", true),

		DiscoveryIntervalBase: envDuration("DISCOVERY_INTERVAL", 60*time.Second),
		EvaluationInterval:    envDuration("EVALUATION_INTERVAL", 5*time.Second),
		MonitorInterval:       envDuration("MONITOR_INTERVAL", 5*time.Second),
		ReconcileInterval:     envDuration("RECONCILE_INTERVAL", 5*time.Minute),

		DefaultMinConfidence:   envDecimal("DEFAULT_MIN_CONFIDENCE", 0.70),
		DefaultMaxSlippagePct:  envDecimal("DEFAULT_MAX_SLIPPAGE_PCT", 0.02),
		DefaultFractionalKelly: envDecimal("DEFAULT_FRACTIONAL_KELLY", 0.25),

		AdapterWorkerPoolSize: envInt("ADAPTER_WORKER_POOL_SIZE", 4),
		AdapterRateLimitRPS:   envInt("ADAPTER_RATE_LIMIT_RPS", 5),

		SportsConfigPath: envString("SPORTS_CONFIG_PATH", "config/sports.yaml"),
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envDecimal(key string, fallback float64) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.NewFromFloat(fallback)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
