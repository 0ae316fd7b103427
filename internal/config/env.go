package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Overrides are read from the environment after the file is parsed.
// Empty variables leave the file value untouched.
type Overrides struct {
	LogLevel     string `env:"REMINDER_LOG_LEVEL"`
	SMTPPassword string `env:"REMINDER_SMTP_PASSWORD"`
	DatabaseURL  string `env:"REMINDER_DATABASE_URL"`
	RedisURL     string `env:"REMINDER_REDIS_URL"`
}

// LoadOverrides parses the process environment.
func LoadOverrides() (Overrides, error) {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return Overrides{}, fmt.Errorf("env overrides: %w", err)
	}
	return o, nil
}

// overridesFrom parses an explicit environment. Tests use it.
func overridesFrom(environ map[string]string) (Overrides, error) {
	var o Overrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return Overrides{}, fmt.Errorf("env overrides: %w", err)
	}
	return o, nil
}

// Apply copies non-empty overrides into cfg.
func (o Overrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if o.SMTPPassword != "" {
		cfg.Mailer.SMTP.Password = o.SMTPPassword
	}
	if v := strings.TrimSpace(o.DatabaseURL); v != "" {
		cfg.EventStore.DSN = v
	}
	if v := strings.TrimSpace(o.RedisURL); v != "" {
		if cfg.EventStore.Cache == nil {
			cfg.EventStore.Cache = &EventCacheConfig{Enabled: true}
		}
		cfg.EventStore.Cache.URL = v
	}
}
