// Package config loads service settings from defaults, an optional YAML
// file, an optional .env file and NUDGE_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration. Later sources win: defaults, file at path,
// then environment (NUDGE_PUSH_MODE for push.mode). A .env file in the
// working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("db.path", "nudge.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("vapid.public_key", "")
	v.SetDefault("vapid.private_key", "")
	v.SetDefault("vapid.subject", "mailto:admin@example.com")

	v.SetDefault("push.mode", "plaintext")
	v.SetDefault("push.icon", "/icons/icon-192.png")
	v.SetDefault("push.workers", 4)
	v.SetDefault("push.send_rate", 0)
	v.SetDefault("push.http_timeout", "10s")
	v.SetDefault("push.campaign_ledger", false)
	v.SetDefault("push.ledger_retain", "2160h")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.utc_offset", "-03:00")
	v.SetDefault("schedule.tick", "1m")
	v.SetDefault("schedule.journey_at", "09:00")
	v.SetDefault("schedule.summary_at", "21:00")
	v.SetDefault("schedule.imc_at", "10:00")

	v.SetDefault("trigger.secret", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("diagnostics.rate_limit", 10)
	v.SetDefault("diagnostics.rate_window", "1m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "5m")

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "nudge")
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetEnvPrefix("NUDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
