package app

import (
	"strings"
	"time"

	"eventreminder/internal/config"
	"eventreminder/internal/eventstore"
	"eventreminder/internal/mailer"
	"eventreminder/internal/storage"
	"eventreminder/internal/task/engine"
	"eventreminder/internal/task/scheduler"
	logx "eventreminder/pkg/logx"
)

const defaultMetricsAddr = "127.0.0.1:9464"

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerMin: l.Alerts.RatePerMin,
			Recipients: l.Alerts.Recipients,
			Subject:    l.Alerts.Subject,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	// Remaining zero values get engine.New defaults.
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.firing_timeout", cfg.Scheduler.FiringTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:      strings.TrimSpace(cfg.Scheduler.Timezone),
		FiringTimeout: timeout,
	}, nil
}

// displayLocation falls back to the scheduler zone, then to local time.
func displayLocation(cfg *config.Config) *time.Location {
	for _, name := range []string{cfg.Scheduler.DisplayTimezone, cfg.Scheduler.Timezone} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.Local
}

func mapMailerConfig(cfg *config.Config) (mailer.Config, error) {
	m := cfg.Mailer
	retryBase, err := config.ParseDurationOrDefault("mailer.retry_base", m.RetryBase, 500*time.Millisecond)
	if err != nil {
		return mailer.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("mailer.retry_max_delay", m.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return mailer.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("mailer.send_timeout", m.SendTimeout, 30*time.Second)
	if err != nil {
		return mailer.Config{}, err
	}
	dialTimeout, err := config.ParseDurationOrDefault("mailer.smtp.dial_timeout", m.SMTP.DialTimeout, 10*time.Second)
	if err != nil {
		return mailer.Config{}, err
	}
	return mailer.Config{
		Driver: m.Driver,
		From:   m.From,
		SMTP: mailer.SMTPConfig{
			Host:        m.SMTP.Host,
			Port:        m.SMTP.Port,
			Username:    m.SMTP.Username,
			Password:    m.SMTP.Password,
			ImplicitTLS: m.SMTP.ImplicitTLS,
			DialTimeout: dialTimeout,
		},
		RatePerSec:    m.RatePerSec,
		RetryMax:      m.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapEventStoreConfig(cfg *config.Config) (eventstore.Config, error) {
	es := cfg.EventStore
	busy, err := config.ParseDurationOrDefault("event_store.busy_timeout", es.BusyTimeout, time.Second)
	if err != nil {
		return eventstore.Config{}, err
	}
	out := eventstore.Config{
		Driver:      es.Driver,
		Path:        strings.TrimSpace(es.Path),
		DSN:         strings.TrimSpace(es.DSN),
		Fixtures:    strings.TrimSpace(es.Fixtures),
		BusyTimeout: busy,
	}
	if c := es.Cache; c != nil && c.Enabled {
		ttl, err := config.ParseDurationOrDefault("event_store.cache.ttl", c.TTL, time.Minute)
		if err != nil {
			return eventstore.Config{}, err
		}
		out.Cache = eventstore.CacheConfig{
			Enabled: true,
			URL:     strings.TrimSpace(c.URL),
			TTL:     ttl,
			Prefix:  c.Prefix,
		}
	}
	return out, nil
}

// mapStorageConfig reports enabled=false when the journal is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retain:      sc.Retain,
	}, true, nil
}

func metricsAddr(cfg *config.Config) string {
	if a := strings.TrimSpace(cfg.Metrics.Addr); a != "" {
		return a
	}
	return defaultMetricsAddr
}
