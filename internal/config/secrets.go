package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg with credentials replaced by "***",
// safe to log. Slices are cloned so the copy can be mutated freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Book.Instruments = slices.Clone(cfg.Book.Instruments)
	out.Kafka.Brokers = slices.Clone(cfg.Kafka.Brokers)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
