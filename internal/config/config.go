package config

import (
	"fmt"
	"strings"
	"time"
)

type HTTPCfg struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DBCfg struct {
	Path string `mapstructure:"path"`
}

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type VAPIDCfg struct {
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	Subject    string `mapstructure:"subject"`
}

type PushCfg struct {
	Mode           string        `mapstructure:"mode"`
	Icon           string        `mapstructure:"icon"`
	Workers        int           `mapstructure:"workers"`
	SendRate       float64       `mapstructure:"send_rate"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	CampaignLedger bool          `mapstructure:"campaign_ledger"`
	LedgerRetain   time.Duration `mapstructure:"ledger_retain"`
}

type ScheduleCfg struct {
	Enabled   bool          `mapstructure:"enabled"`
	UTCOffset string        `mapstructure:"utc_offset"`
	Tick      time.Duration `mapstructure:"tick"`
	JourneyAt string        `mapstructure:"journey_at"`
	SummaryAt string        `mapstructure:"summary_at"`
	IMCAt     string        `mapstructure:"imc_at"`
}

type TriggerCfg struct {
	Secret string `mapstructure:"secret"`
}

type AuthCfg struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DiagnosticsCfg struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type RedisCfg struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type OTELCfg struct {
	Enable      bool    `mapstructure:"enable"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type Config struct {
	HTTP        HTTPCfg        `mapstructure:"http"`
	DB          DBCfg          `mapstructure:"db"`
	Log         LogCfg         `mapstructure:"log"`
	VAPID       VAPIDCfg       `mapstructure:"vapid"`
	Push        PushCfg        `mapstructure:"push"`
	Schedule    ScheduleCfg    `mapstructure:"schedule"`
	Trigger     TriggerCfg     `mapstructure:"trigger"`
	Auth        AuthCfg        `mapstructure:"auth"`
	Diagnostics DiagnosticsCfg `mapstructure:"diagnostics"`
	Redis       RedisCfg       `mapstructure:"redis"`
	OTEL        OTELCfg        `mapstructure:"otel"`
}

// Location parses schedule.utc_offset ("-03:00", "+05:30", "Z") into a fixed zone.
func (c ScheduleCfg) Location() (*time.Location, error) {
	off := strings.TrimSpace(c.UTCOffset)
	if off == "" || off == "Z" || off == "UTC" {
		return time.UTC, nil
	}
	t, err := time.Parse("-07:00", off)
	if err != nil {
		return nil, fmt.Errorf("schedule.utc_offset %q: want ±HH:MM", c.UTCOffset)
	}
	_, secs := t.Zone()
	return time.FixedZone("UTC"+off, secs), nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.VAPID.PublicKey == "" || c.VAPID.PrivateKey == "" {
		return fmt.Errorf("vapid.public_key and vapid.private_key are required")
	}
	if c.VAPID.Subject == "" {
		return fmt.Errorf("vapid.subject is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Push.Mode {
	case "plaintext", "encrypted":
	default:
		return fmt.Errorf("push.mode %q: want plaintext or encrypted", c.Push.Mode)
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}
	if t := c.Schedule.Tick; c.Schedule.Enabled && (t <= 0 || t > time.Minute || time.Minute%t != 0) {
		return fmt.Errorf("schedule.tick %s must evenly divide one minute", t)
	}
	return nil
}
