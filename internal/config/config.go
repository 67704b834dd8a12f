package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// Exchange API
	ExchangeBaseURL string
	ExchangeFeedURL string
	APIKey          string
	APISecret       string

	// Limits file (rate / admission / fee / risk sizing)
	LimitsPath string

	// Order history archive (SQLite). Empty disables persistence.
	HistoryPath string

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ExchangeBaseURL: envStr("EXCHANGE_BASE_URL", "https://api.bitflyer.com"),
		ExchangeFeedURL: envStr("EXCHANGE_FEED_URL", "wss://ws.lightstream.bitflyer.com/json-rpc"),
		APIKey:          envStr("EXCHANGE_API_KEY", ""),
		APISecret:       envStr("EXCHANGE_API_SECRET", ""),

		LimitsPath:  envStr("LIMITS_PATH", "internal/config/limits.yaml"),
		HistoryPath: envStr("HISTORY_PATH", "data/orders.db"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
