package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Secrets and
// connection strings may be overridden from the environment; see env.go.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls the worker pool that runs firings.
	// If omitted, runtime defaults apply.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Mailer     MailerConfig     `json:"mailer"`
	EventStore EventStoreConfig `json:"event_store"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Metrics    MetricsConfig    `json:"metrics"`
	Systemd    SystemdConfig    `json:"systemd"`

	// Reminders are registered once at start.
	Reminders []ReminderConfig `json:"reminders,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards WARN+ lines to operators by mail.
type LoggingAlerts struct {
	Enabled    bool     `json:"enabled"`
	MinLevel   string   `json:"min_level,omitempty"`
	RatePerMin int      `json:"rate_per_min,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
}

// SchedulerConfig controls the reminder registry.
type SchedulerConfig struct {
	// Timezone applies to recurring expressions without CRON_TZ.
	Timezone string `json:"timezone,omitempty"`
	// FiringTimeout bounds one firing. "0s" or empty disables it.
	FiringTimeout string `json:"firing_timeout,omitempty"`
	// DisplayTimezone is the zone used to render start times in reminder bodies.
	DisplayTimezone string `json:"display_timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled; reminder firings are never dropped)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// MailerConfig controls reminder delivery.
//
// Example:
//
//	"mailer": { "driver": "smtp", "from": "reminders@example.com",
//	            "smtp": { "host": "smtp.example.com", "port": 587 } }
type MailerConfig struct {
	// Driver is "smtp" or "log" (default).
	Driver        string     `json:"driver,omitempty"`
	From          string     `json:"from,omitempty"`
	SMTP          SMTPConfig `json:"smtp"`
	RatePerSec    int        `json:"rate_per_sec,omitempty"`
	RetryMax      int        `json:"retry_max,omitempty"`
	RetryBase     string     `json:"retry_base,omitempty"`
	RetryMaxDelay string     `json:"retry_max_delay,omitempty"`
	SendTimeout   string     `json:"send_timeout,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	// Password is a secret (do not log). Prefer REMINDER_SMTP_PASSWORD.
	Password    string `json:"password,omitempty"`
	ImplicitTLS bool   `json:"implicit_tls,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// EventStoreConfig selects where events and users are read from.
type EventStoreConfig struct {
	// Driver is "memory" (default), "sqlite" or "postgres".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	// DSN is a secret (do not log). Prefer REMINDER_DATABASE_URL.
	DSN         string            `json:"dsn,omitempty"`
	Fixtures    string            `json:"fixtures,omitempty"`
	BusyTimeout string            `json:"busy_timeout,omitempty"`
	Cache       *EventCacheConfig `json:"cache,omitempty"`
}

// EventCacheConfig enables the Redis read-through cache.
type EventCacheConfig struct {
	Enabled bool `json:"enabled"`
	// URL is a secret (do not log). Prefer REMINDER_REDIS_URL.
	URL    string `json:"url,omitempty"`
	TTL    string `json:"ttl,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// StorageConfig controls the optional firing journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retain      int    `json:"retain,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof mounts /debug/pprof/ on the same listener. Prefer a loopback addr.
	Pprof bool `json:"pprof,omitempty"`
}

// SystemdConfig controls sd_notify integration. It is a no-op when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// ReminderConfig registers one reminder at start. Exactly one of Lead or
// Cron must be set.
type ReminderConfig struct {
	EventID int64  `json:"event_id"`
	Lead    string `json:"lead,omitempty"`
	Cron    string `json:"cron,omitempty"`
}
