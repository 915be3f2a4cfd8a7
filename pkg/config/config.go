package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the session core.
type Config struct {
	Port           string
	GRPCHealthPort string

	// Database
	DBPath string

	// OANDA
	OandaPracticeKey string
	OandaLiveKey     string
	OandaEnv         string // "practice" (default) or "live"
	OandaHost        string
	OandaStreamHost  string
	OandaAccountID   string
	BrokerRateLimit  float64 // requests per second

	// Dry-run: paper broker with random-walk candles
	DryRun               bool
	DryRunInitialBalance float64

	// Sessions
	MaxRunningSessions int
	MaxClosedTrades    int
	TxPageSize         int
	StrategyPresets    string // YAML preset file
	SessionsFile       string // YAML seed sessions

	// Loop cadences
	MetricsRefreshInterval time.Duration
	TxSyncInterval         time.Duration
	BarPollMin             time.Duration
	BarPollMax             time.Duration
	ErrorBackoff           time.Duration
	ErrorBackoffMax        time.Duration

	// Startup recovery
	RecoveryAutoClose bool
	RecoveryTimeout   time.Duration

	EnablePriceStream bool

	// Auth
	JWTSecret   string
	RequireAuth bool

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables, optionally from envFiles or ./.env, into Config.
func Load(envFiles ...string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load(envFiles...)

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/sessions.db")
	}

	return &Config{
		Port:                   getEnv("PORT", "8080"),
		GRPCHealthPort:         getEnv("GRPC_HEALTH_PORT", "9090"),
		DBPath:                 dbPath,
		OandaPracticeKey:       os.Getenv("OANDA_PRACTICE_API_KEY"),
		OandaLiveKey:           os.Getenv("OANDA_LIVE_API_KEY"),
		OandaEnv:               strings.ToLower(getEnv("OANDA_ENV", "practice")),
		OandaHost:              os.Getenv("OANDA_HOST"),
		OandaStreamHost:        os.Getenv("OANDA_STREAM_HOST"),
		OandaAccountID:         os.Getenv("OANDA_ACCOUNT_ID"),
		BrokerRateLimit:        getEnvFloat("BROKER_RATE_LIMIT", 20),
		DryRun:                 getEnv("DRY_RUN", "false") == "true",
		DryRunInitialBalance:   getEnvFloat("DRY_RUN_INITIAL_BALANCE", 100000),
		MaxRunningSessions:     getEnvInt("MAX_RUNNING_SESSIONS", 10),
		MaxClosedTrades:        getEnvInt("MAX_CLOSED_TRADES", 500),
		TxPageSize:             getEnvInt("TX_PAGE_SIZE", 1000),
		StrategyPresets:        getEnv("STRATEGY_PRESETS", ""),
		SessionsFile:           getEnv("SESSIONS_FILE", ""),
		MetricsRefreshInterval: getEnvDuration("METRICS_REFRESH_INTERVAL", 30*time.Second),
		TxSyncInterval:         getEnvDuration("TX_SYNC_INTERVAL", 5*time.Minute),
		BarPollMin:             getEnvDuration("BAR_POLL_MIN", 5*time.Second),
		BarPollMax:             getEnvDuration("BAR_POLL_MAX", time.Minute),
		ErrorBackoff:           getEnvDuration("ERROR_BACKOFF", 10*time.Second),
		ErrorBackoffMax:        getEnvDuration("ERROR_BACKOFF_MAX", 2*time.Minute),
		RecoveryAutoClose:      getEnv("RECOVERY_AUTO_CLOSE", "false") == "true",
		RecoveryTimeout:        getEnvDuration("RECOVERY_TIMEOUT", 30*time.Second),
		EnablePriceStream:      getEnv("ENABLE_PRICE_STREAM", "true") == "true",
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret"),
		RequireAuth:            getEnv("REQUIRE_AUTH", "false") == "true",
		Language:               getEnv("LANGUAGE", "en"),
	}, nil
}

// Live reports whether the live OANDA environment is selected.
func (c *Config) Live() bool {
	return c.OandaEnv == "live"
}

// OandaToken returns the API key for the selected environment.
func (c *Config) OandaToken() string {
	if c.Live() {
		return c.OandaLiveKey
	}
	return c.OandaPracticeKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
