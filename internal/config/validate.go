package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks structure only: drivers, durations and reminder entries.
// Lead tags and cron expressions are checked by the app, which owns those
// parsers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.DisplayTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.display_timezone: %w", err))
		}
	}
	dur("scheduler.firing_timeout", cfg.Scheduler.FiringTimeout)

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			add(errors.New("task_engine: counts must be >= 0"))
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Mailer.Driver)); d {
	case "", "log":
	case "smtp":
		if strings.TrimSpace(cfg.Mailer.SMTP.Host) == "" {
			add(errors.New("mailer.smtp.host is required for driver smtp"))
		}
		if strings.TrimSpace(cfg.Mailer.From) == "" {
			add(errors.New("mailer.from is required for driver smtp"))
		}
	default:
		add(fmt.Errorf("mailer.driver: unknown driver %q", d))
	}
	if cfg.Mailer.RatePerSec < 0 || cfg.Mailer.RetryMax < 0 {
		add(errors.New("mailer: rate_per_sec and retry_max must be >= 0"))
	}
	dur("mailer.retry_base", cfg.Mailer.RetryBase)
	dur("mailer.retry_max_delay", cfg.Mailer.RetryMaxDelay)
	dur("mailer.send_timeout", cfg.Mailer.SendTimeout)
	dur("mailer.smtp.dial_timeout", cfg.Mailer.SMTP.DialTimeout)

	es := cfg.EventStore
	switch d := strings.ToLower(strings.TrimSpace(es.Driver)); d {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(es.Path) == "" {
			add(errors.New("event_store.path is required for driver sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(es.DSN) == "" {
			add(errors.New("event_store.dsn (or REMINDER_DATABASE_URL) is required for driver postgres"))
		}
	default:
		add(fmt.Errorf("event_store.driver: unknown driver %q", d))
	}
	dur("event_store.busy_timeout", es.BusyTimeout)
	if c := es.Cache; c != nil {
		if c.Enabled && strings.TrimSpace(c.URL) == "" {
			add(errors.New("event_store.cache.url (or REMINDER_REDIS_URL) is required when the cache is enabled"))
		}
		dur("event_store.cache.ttl", c.TTL)
	}

	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %s", d))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", d))
		}
		if st.Retain < 0 {
			add(errors.New("storage.retain must be >= 0"))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	seen := make(map[string]int, len(cfg.Reminders))
	for i, r := range cfg.Reminders {
		path := fmt.Sprintf("reminders[%d]", i)
		lead, cron := strings.TrimSpace(r.Lead), strings.TrimSpace(r.Cron)
		if (lead == "") == (cron == "") {
			add(fmt.Errorf("%s: exactly one of lead or cron must be set", path))
			continue
		}
		key := fmt.Sprintf("%d/%s", r.EventID, lead)
		if cron != "" {
			key = fmt.Sprintf("%d/cron", r.EventID)
		}
		if j, dup := seen[key]; dup {
			add(fmt.Errorf("%s: duplicates reminders[%d]", path, j))
			continue
		}
		seen[key] = i
	}

	return errors.Join(errs...)
}
