package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the built-in defaults, loads a .env
// file if present, and applies ARENA_* environment overrides. An empty path
// skips the file. The result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ARENA_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ARENA_MODE")
	setStr(&cfg.LogLevel, "ARENA_LOG_LEVEL")
	setStr(&cfg.Log.Format, "ARENA_LOG_FORMAT")
	setStr(&cfg.Log.File, "ARENA_LOG_FILE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ARENA_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "ARENA_FEED_URL")
	setStr(&cfg.Feed.APIKey, "ARENA_FEED_API_KEY")
	setStringSlice(&cfg.Feed.Channels, "ARENA_FEED_CHANNELS")
	setStringSlice(&cfg.Feed.Tickers, "ARENA_FEED_TICKERS")

	// ── Detector ──
	setInt(&cfg.Detector.WindowSize, "ARENA_DETECTOR_WINDOW_SIZE")
	setFloat64(&cfg.Detector.SwingThreshold, "ARENA_DETECTOR_SWING_THRESHOLD")
	setFloat64(&cfg.Detector.SpikeMultiplier, "ARENA_DETECTOR_SPIKE_MULTIPLIER")
	setInt(&cfg.Detector.MinHistory, "ARENA_DETECTOR_MIN_HISTORY")
	setBool(&cfg.Detector.ImbalanceEnabled, "ARENA_DETECTOR_IMBALANCE_ENABLED")
	setFloat64(&cfg.Detector.ImbalanceRatio, "ARENA_DETECTOR_IMBALANCE_RATIO")

	// ── Dispatch ──
	setStr(&cfg.Dispatch.StartURL, "ARENA_DISPATCH_START_URL")
	setStr(&cfg.Dispatch.Secret, "ARENA_DISPATCH_SECRET")
	setStr(&cfg.Dispatch.SigningSecret, "ARENA_DISPATCH_SIGNING_SECRET")
	setInt(&cfg.Dispatch.Concurrency, "ARENA_DISPATCH_CONCURRENCY")
	setDuration(&cfg.Dispatch.CallTimeout, "ARENA_DISPATCH_CALL_TIMEOUT")
	setFloat64(&cfg.Dispatch.RequestsPerSecond, "ARENA_DISPATCH_REQUESTS_PER_SECOND")
	setInt(&cfg.Dispatch.Burst, "ARENA_DISPATCH_BURST")
	setStringSlice(&cfg.Dispatch.Recipients, "ARENA_DISPATCH_RECIPIENTS")

	// ── Poller ──
	setDuration(&cfg.Poller.Interval, "ARENA_POLLER_INTERVAL")
	setDuration(&cfg.Poller.Timeout, "ARENA_POLLER_TIMEOUT")
	setStr(&cfg.Poller.ResultSource, "ARENA_POLLER_RESULT_SOURCE")
	setStr(&cfg.Poller.ResultsURL, "ARENA_POLLER_RESULTS_URL")

	// ── Trigger store ──
	setStr(&cfg.TriggerStore.Backend, "ARENA_TRIGGER_STORE_BACKEND")
	setDuration(&cfg.TriggerStore.Grace, "ARENA_TRIGGER_STORE_GRACE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARENA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARENA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARENA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARENA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARENA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARENA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARENA_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "ARENA_REDIS_STREAM_MAX_LEN")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "ARENA_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "ARENA_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "ARENA_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "ARENA_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "ARENA_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "ARENA_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "ARENA_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "ARENA_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "ARENA_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "ARENA_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "ARENA_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "ARENA_SUPABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARENA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARENA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARENA_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARENA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARENA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARENA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARENA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARENA_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.FlushInterval, "ARENA_S3_FLUSH_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "ARENA_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARENA_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ARENA_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ARENA_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARENA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARENA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARENA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARENA_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "ARENA_METRICS_ENABLED")
	setStr(&cfg.Metrics.Region, "ARENA_METRICS_REGION")
	setStr(&cfg.Metrics.Namespace, "ARENA_METRICS_NAMESPACE")
	setDuration(&cfg.Metrics.Interval, "ARENA_METRICS_INTERVAL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
