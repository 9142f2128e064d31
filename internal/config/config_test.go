package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLive() Config {
	cfg := Defaults()
	cfg.Feed.WSURL = "ws://localhost:9001/ticks"
	return cfg
}

func TestDefaults_SingleInstrumentSession(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, []string{"SPY"}, cfg.Book.Instruments)
	assert.Equal(t, 5, cfg.Book.LevelCount)
	assert.Equal(t, 0.2, cfg.Signal.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.EvalInterval())
	assert.Equal(t, 300_000, cfg.Signal.MaxTicksPerSession)

	p, err := cfg.MinQuotePrice()
	require.NoError(t, err)
	assert.Equal(t, "1", p.String())
}

func TestValidate_Valid(t *testing.T) {
	cfg := validLive()
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "monitor"
	cfg.Feed.WSURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validLive()
	cfg.Mode = "paper"
	cfg.Book.LevelCount = 0
	cfg.Signal.Threshold = 1.5
	cfg.Signal.Timezone = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "level_count", "threshold", "timezone"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ModeRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"live without ws", func(c *Config) { c.Feed.WSURL = "" }, "feed.ws_url"},
		{"replay without path", func(c *Config) { c.Mode = "replay" }, "feed.replay_path"},
		{"replay s3 without bucket", func(c *Config) {
			c.Mode = "replay"
			c.Feed.ReplayPath = "s3://ticks/2013-10-07.csv.gz"
		}, "s3.bucket"},
		{"session hours", func(c *Config) { c.Signal.SessionStartHour = 14 }, "session hours"},
		{"duplicate instrument", func(c *Config) { c.Book.Instruments = []string{"SPY", "SPY"} }, "twice"},
		{"bad min quote", func(c *Config) { c.Book.MinQuotePrice = "one" }, "min_quote_price"},
		{"kafka topic", func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = ""
		}, "kafka.topic"},
		{"telegram half set", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validLive()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "replay"

[book]
instruments = ["SPY", "QQQ"]
level_count = 3

[signal]
eval_interval = "1m"

[feed]
replay_path = "ticks.csv"
`), 0o600))

	t.Setenv("IMBALANCE_SIGNAL_THRESHOLD", "0.35")
	t.Setenv("IMBALANCE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("IMBALANCE_REDIS_NAMESPACE", "imbalance-paper")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Book.Instruments)
	assert.Equal(t, 3, cfg.Book.LevelCount)
	assert.Equal(t, time.Minute, cfg.EvalInterval())
	assert.Equal(t, 0.35, cfg.Signal.Threshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "imbalance-paper", cfg.Redis.Namespace)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.toml")
	require.NoError(t, os.WriteFile(path, []byte("[book]\nlevels = 3\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "book.levels")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validLive()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "sk"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Book.Instruments[0] = "QQQ"
	assert.Equal(t, "SPY", cfg.Book.Instruments[0])
}
