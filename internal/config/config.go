// Package config defines the relay configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by ARENA_* environment variables.
type Config struct {
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
	Log          LogConfig          `toml:"log"`
	Feed         FeedConfig         `toml:"feed"`
	Detector     DetectorConfig     `toml:"detector"`
	Dispatch     DispatchConfig     `toml:"dispatch"`
	Poller       PollerConfig       `toml:"poller"`
	TriggerStore TriggerStoreConfig `toml:"trigger_store"`
	Redis        RedisConfig        `toml:"redis"`
	Supabase     SupabaseConfig     `toml:"supabase"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// LogConfig controls log output. When File is set, logs are also written to a
// rotating file.
type LogConfig struct {
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// FeedConfig holds the dflow WebSocket subscription.
type FeedConfig struct {
	Enabled  bool     `toml:"enabled"`
	URL      string   `toml:"url"`
	APIKey   string   `toml:"api_key"`
	Channels []string `toml:"channels"`
	Tickers  []string `toml:"tickers"`
}

// DetectorConfig holds signal thresholds.
type DetectorConfig struct {
	WindowSize       int     `toml:"window_size"`
	SwingThreshold   float64 `toml:"swing_threshold"`
	SpikeMultiplier  float64 `toml:"spike_multiplier"`
	MinHistory       int     `toml:"min_history"`
	ImbalanceEnabled bool    `toml:"imbalance_enabled"`
	ImbalanceRatio   float64 `toml:"imbalance_ratio"`
}

// DispatchConfig holds the outbound trigger endpoint and fan-out limits.
type DispatchConfig struct {
	StartURL          string              `toml:"start_url"`
	Secret            string              `toml:"secret"`
	SigningSecret     string              `toml:"signing_secret"`
	Concurrency       int                 `toml:"concurrency"`
	CallTimeout       duration            `toml:"call_timeout"`
	RequestsPerSecond float64             `toml:"requests_per_second"`
	Burst             int                 `toml:"burst"`
	Recipients        []string            `toml:"recipients"`
	TickerRecipients  map[string][]string `toml:"ticker_recipients"`
}

// PollerConfig holds completion polling parameters. ResultSource is "http"
// (query ResultsURL) or "postgres" (query agent_decisions).
type PollerConfig struct {
	Interval     duration `toml:"interval"`
	Timeout      duration `toml:"timeout"`
	ResultSource string   `toml:"result_source"`
	ResultsURL   string   `toml:"results_url"`
}

// TriggerStoreConfig selects where trigger records live. Grace is added to
// the poller timeout to form the Redis key TTL.
type TriggerStoreConfig struct {
	Backend string   `toml:"backend"`
	Grace   duration `toml:"grace"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds the signal archive bucket.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval"`
	MaxBuffer      int      `toml:"max_buffer"`
	PartSizeMB     int      `toml:"part_size_mb"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables auth.
type ServerConfig struct {
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the CloudWatch publisher. Credentials come from the
// default AWS chain.
type MetricsConfig struct {
	Enabled   bool     `toml:"enabled"`
	Region    string   `toml:"region"`
	Namespace string   `toml:"namespace"`
	Interval  duration `toml:"interval"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented defaults.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Log: LogConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Feed: FeedConfig{
			Enabled:  true,
			URL:      "wss://prediction-markets-api.dflow.net/api/v1/ws",
			Channels: []string{"prices", "trades", "orderbook"},
		},
		Detector: DetectorConfig{
			WindowSize:      100,
			SwingThreshold:  0.10,
			SpikeMultiplier: 10,
			MinHistory:      10,
			ImbalanceRatio:  3,
		},
		Dispatch: DispatchConfig{
			Concurrency:       8,
			CallTimeout:       duration{15 * time.Second},
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Poller: PollerConfig{
			Interval:     duration{30 * time.Second},
			Timeout:      duration{10 * time.Minute},
			ResultSource: "http",
		},
		TriggerStore: TriggerStoreConfig{
			Backend: "memory",
			Grace:   duration{2 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		Supabase: SupabaseConfig{
			Port:          5432,
			Database:      "postgres",
			SSLMode:       "require",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:        "us-east-1",
			UseSSL:        true,
			FlushInterval: duration{5 * time.Minute},
			MaxBuffer:     10000,
			PartSizeMB:    5,
		},
		Server: ServerConfig{
			Port:            8000,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trigger_failed", "trigger_timeout"},
		},
		Metrics: MetricsConfig{
			Namespace: "ArenaRelay",
			Interval:  duration{time.Minute},
		},
	}
}

var validModes = map[string]bool{
	"relay":  true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks c and returns one error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: relay, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: format must be json or text, got %q", c.Log.Format))
	}

	if (mode == "relay" || mode == "full") && c.Feed.Enabled {
		if !validURL(c.Feed.URL, "ws", "wss") {
			errs = append(errs, fmt.Sprintf("feed: url must be a ws:// or wss:// URL, got %q", c.Feed.URL))
		}
	}

	if c.Detector.SwingThreshold <= 0 {
		errs = append(errs, "detector: swing_threshold must be > 0")
	}
	if c.Detector.SpikeMultiplier <= 0 {
		errs = append(errs, "detector: spike_multiplier must be > 0")
	}
	if c.Detector.MinHistory < 1 {
		errs = append(errs, "detector: min_history must be >= 1")
	}
	if c.Detector.WindowSize <= c.Detector.MinHistory {
		errs = append(errs, "detector: window_size must exceed min_history")
	}
	if c.Detector.ImbalanceEnabled && c.Detector.ImbalanceRatio <= 1 {
		errs = append(errs, "detector: imbalance_ratio must be > 1")
	}

	if !validURL(c.Dispatch.StartURL, "http", "https") {
		errs = append(errs, fmt.Sprintf("dispatch: start_url must be an http(s) URL, got %q", c.Dispatch.StartURL))
	}
	if c.Dispatch.Concurrency < 1 {
		errs = append(errs, "dispatch: concurrency must be >= 1")
	}

	if c.Poller.Interval.Duration <= 0 {
		errs = append(errs, "poller: interval must be > 0")
	}
	if c.Poller.Timeout.Duration <= 0 {
		errs = append(errs, "poller: timeout must be > 0")
	}
	switch c.Poller.ResultSource {
	case "http":
		if !validURL(c.Poller.ResultsURL, "http", "https") {
			errs = append(errs, fmt.Sprintf("poller: results_url must be an http(s) URL for result_source http, got %q", c.Poller.ResultsURL))
		}
	case "postgres":
		if !c.Supabase.Enabled {
			errs = append(errs, "poller: result_source postgres requires supabase.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("poller: unknown result_source %q (valid: http, postgres)", c.Poller.ResultSource))
	}

	switch c.TriggerStore.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "trigger_store: backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("trigger_store: unknown backend %q (valid: memory, redis)", c.TriggerStore.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Namespace == "" {
			errs = append(errs, "metrics: namespace must not be empty")
		}
		if c.Metrics.Interval.Duration < time.Second {
			errs = append(errs, "metrics: interval must be >= 1s")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}
