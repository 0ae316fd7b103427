package config

import (
	"reflect"
	"sort"
	"strings"

	logx "eventreminder/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (SMTP password, DSN, Redis URL)
// are reported only as *_set booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
			logx.Int("logging.alert_recipients", len(newCfg.Logging.Alerts.Recipients)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.firing_timeout", strings.TrimSpace(newCfg.Scheduler.FiringTimeout)),
			logx.String("scheduler.display_timezone", strings.TrimSpace(newCfg.Scheduler.DisplayTimezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || oTE != nTE {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(nTE.MaxQueueDelay)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if oldCfg.Mailer != newCfg.Mailer {
		changed = append(changed, "mailer")
		nm := newCfg.Mailer
		attrs = append(attrs,
			logx.String("mailer.driver", strings.TrimSpace(nm.Driver)),
			logx.Bool("mailer.from_set", strings.TrimSpace(nm.From) != ""),
			logx.String("mailer.smtp_host", strings.TrimSpace(nm.SMTP.Host)),
			logx.Int("mailer.smtp_port", nm.SMTP.Port),
			logx.Bool("mailer.smtp_password_set", nm.SMTP.Password != ""),
			logx.Int("mailer.rate_per_sec", nm.RatePerSec),
			logx.Int("mailer.retry_max", nm.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.EventStore, newCfg.EventStore) {
		changed = append(changed, "event_store")
		es := newCfg.EventStore
		cache := es.Cache != nil && es.Cache.Enabled
		attrs = append(attrs,
			logx.String("event_store.driver", strings.TrimSpace(es.Driver)),
			logx.Bool("event_store.path_set", strings.TrimSpace(es.Path) != ""),
			logx.Bool("event_store.dsn_set", strings.TrimSpace(es.DSN) != ""),
			logx.Bool("event_store.fixtures_set", strings.TrimSpace(es.Fixtures) != ""),
			logx.Bool("event_store.cache_enabled", cache),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
			logx.Int("storage.retain", nS.Retain),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs, logx.Int("reminders.count", len(newCfg.Reminders)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the changed sections that only take effect on
// restart. The rest are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "reminders":
		default:
			out = append(out, s)
		}
	}
	return out
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
