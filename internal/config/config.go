// Package config defines the bot configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // session timezone in minimal containers

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file on top of
// Defaults and are then overridden by IMBALANCE_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Book     BookConfig     `toml:"book"`
	Signal   SignalConfig   `toml:"signal"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// BookConfig controls book reconstruction and the depth weighting.
type BookConfig struct {
	Instruments []string `toml:"instruments"`
	LevelCount  int      `toml:"level_count"`
	// MinQuotePrice is the ask price above which a quote tick is read as an
	// ask update; otherwise the bid side is used.
	MinQuotePrice string  `toml:"min_quote_price"`
	WeightDecay   float64 `toml:"weight_decay"`
}

// SignalConfig controls the evaluation cycle and the decision rule.
type SignalConfig struct {
	Threshold          float64  `toml:"threshold"`
	EvalInterval       duration `toml:"eval_interval"`
	MinLevels          int      `toml:"min_levels"`
	SessionStartHour   int      `toml:"session_start_hour"`
	SessionEndHour     int      `toml:"session_end_hour"`
	MaxTicksPerSession int      `toml:"max_ticks_per_session"`
	Timezone           string   `toml:"timezone"`
}

// FeedConfig selects the tick source.
type FeedConfig struct {
	WSURL       string  `toml:"ws_url"`
	ReplayPath  string  `toml:"replay_path"` // local path or s3://key
	ReplaySpeed float64 `toml:"replay_speed"`
}

// PostgresConfig holds PostgreSQL connection parameters. Empty DSN and Host
// disable persistence.
type PostgresConfig struct {
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

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool { return p.DSN != "" || p.Host != "" }

// RedisConfig holds Redis connection parameters. Empty Addr disables Redis.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	Namespace    string   `toml:"namespace"`
	BookTTL      duration `toml:"book_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	InstanceLock bool     `toml:"instance_lock"`
	LockTTL      duration `toml:"lock_ttl"`
	APIRateLimit int      `toml:"api_rate_limit"`
	HaltAlertCap int      `toml:"halt_alert_cap"`
}

// S3Config holds object storage parameters. Empty Bucket disables S3.
type S3Config struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKey       string `toml:"access_key"`
	SecretKey       string `toml:"secret_key"`
	UseSSL          bool   `toml:"use_ssl"`
	ForcePathStyle  bool   `toml:"force_path_style"`
	Prefix          string `toml:"prefix"`
	ArchiveSnapshot bool   `toml:"archive_snapshots"`
}

// KafkaConfig holds the instruction topic. Empty Brokers disables Kafka.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds chat alert credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
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

// Defaults returns a single-instrument configuration: SPY, five levels,
// e^-i weights, a 0.2 threshold and five-minute cycles between 08:00 and
// 14:00 New York time.
func Defaults() Config {
	return Config{
		Mode:     "live",
		LogLevel: "info",
		Book: BookConfig{
			Instruments:   []string{"SPY"},
			LevelCount:    5,
			MinQuotePrice: "1",
			WeightDecay:   1.0,
		},
		Signal: SignalConfig{
			Threshold:          0.2,
			EvalInterval:       duration{5 * time.Minute},
			MinLevels:          2,
			SessionStartHour:   8,
			SessionEndHour:     14,
			MaxTicksPerSession: 300_000,
			Timezone:           "America/New_York",
		},
		Feed: FeedConfig{
			ReplaySpeed: 0,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "imbalance",
			BookTTL:      duration{time.Hour},
			StreamMaxLen: 10_000,
			InstanceLock: true,
			LockTTL:      duration{30 * time.Second},
			HaltAlertCap: 3,
		},
		S3: S3Config{
			Region:          "us-east-1",
			ForcePathStyle:  true,
			ArchiveSnapshot: true,
		},
		Kafka: KafkaConfig{
			Topic: "imbalance.instructions",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"position", "halt", "startup"},
		},
	}
}

var validModes = map[string]bool{
	"live":    true,
	"replay":  true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: live, replay, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if mode != "monitor" && len(c.Book.Instruments) == 0 {
		add("book.instruments must list at least one instrument")
	}
	seen := map[string]bool{}
	for _, inst := range c.Book.Instruments {
		if strings.TrimSpace(inst) == "" {
			add("book.instruments contains an empty name")
		} else if seen[inst] {
			add("book.instruments lists %q twice", inst)
		}
		seen[inst] = true
	}
	if c.Book.LevelCount < 1 {
		add("book.level_count must be >= 1, got %d", c.Book.LevelCount)
	}
	if c.Book.WeightDecay <= 0 {
		add("book.weight_decay must be > 0, got %v", c.Book.WeightDecay)
	}
	if _, err := c.MinQuotePrice(); err != nil {
		add("book.min_quote_price: %v", err)
	}

	if c.Signal.Threshold <= 0 || c.Signal.Threshold >= 1 {
		add("signal.threshold must be in (0, 1), got %v", c.Signal.Threshold)
	}
	if c.Signal.EvalInterval.Duration <= 0 {
		add("signal.eval_interval must be positive")
	}
	if c.Signal.MinLevels < 1 {
		add("signal.min_levels must be >= 1, got %d", c.Signal.MinLevels)
	}
	if c.Signal.SessionStartHour < 0 || c.Signal.SessionEndHour > 24 || c.Signal.SessionStartHour >= c.Signal.SessionEndHour {
		add("signal session hours must satisfy 0 <= start < end <= 24, got %d..%d",
			c.Signal.SessionStartHour, c.Signal.SessionEndHour)
	}
	if c.Signal.MaxTicksPerSession < 0 {
		add("signal.max_ticks_per_session must be >= 0")
	}
	if _, err := time.LoadLocation(c.Signal.Timezone); err != nil {
		add("signal.timezone: %v", err)
	}

	switch mode {
	case "live":
		if c.Feed.WSURL == "" {
			add("feed.ws_url is required for mode live")
		}
	case "replay":
		if c.Feed.ReplayPath == "" {
			add("feed.replay_path is required for mode replay")
		}
		if strings.HasPrefix(c.Feed.ReplayPath, "s3://") && c.S3.Bucket == "" {
			add("feed.replay_path uses s3:// but s3.bucket is empty")
		}
		if c.Feed.ReplaySpeed < 0 {
			add("feed.replay_speed must be >= 0")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		add("kafka.topic is required when brokers are set")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// MinQuotePrice parses Book.MinQuotePrice.
func (c *Config) MinQuotePrice() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Book.MinQuotePrice)
}

// Location loads Signal.Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Signal.Timezone)
}

// EvalInterval returns Signal.EvalInterval.
func (c *Config) EvalInterval() time.Duration { return c.Signal.EvalInterval.Duration }
