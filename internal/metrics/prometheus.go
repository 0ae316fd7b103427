package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "eventreminder/pkg/logx"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration failures are logged and never propagated.
type PrometheusSink struct {
	jobsRegistered *prometheus.CounterVec
	jobsRemoved    *prometheus.CounterVec
	scheduledJobs  prometheus.Gauge
	misfires       prometheus.Counter
	firingLag      prometheus.Histogram
	firings        *prometheus.CounterVec
	firingDuration prometheus.Histogram

	notifications    *prometheus.CounterVec
	deliveryAttempts *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{
		jobsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_registry_jobs_registered_total",
			Help: "Jobs registered, by fire spec kind.",
		}, []string{"kind"}),
		jobsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_registry_jobs_removed_total",
			Help: "Jobs removed from the registry, by reason.",
		}, []string{"reason"}),
		scheduledJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminder_registry_scheduled_jobs",
			Help: "Jobs currently registered.",
		}),
		misfires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_registry_misfires_total",
			Help: "Firings dispatched late because their instant had already passed.",
		}),
		firingLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminder_registry_firing_lag_seconds",
			Help:    "Delay between the scheduled instant and the start of execution.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_firings_total",
			Help: "Completed firings, by outcome.",
		}, []string{"outcome"}),
		firingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminder_firing_duration_seconds",
			Help:    "Time spent executing one firing.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_notifications_total",
			Help: "Per-recipient notifications, by result.",
		}, []string{"result"}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_mailer_attempts_total",
			Help: "Mailer transport attempts, by attempt number and result.",
		}, []string{"attempt", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_eventstore_cache_lookups_total",
			Help: "Event cache lookups, by result.",
		}, []string{"result"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"jobs_registered":   s.jobsRegistered,
		"jobs_removed":      s.jobsRemoved,
		"scheduled_jobs":    s.scheduledJobs,
		"misfires":          s.misfires,
		"firing_lag":        s.firingLag,
		"firings":           s.firings,
		"firing_duration":   s.firingDuration,
		"notifications":     s.notifications,
		"delivery_attempts": s.deliveryAttempts,
		"cache_lookups":     s.cacheLookups,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn("metrics: register failed", logx.String("collector", name), logx.Err(err))
		}
	}
	return s
}

func (s *PrometheusSink) JobRegistered(kind string) { s.jobsRegistered.WithLabelValues(kind).Inc() }
func (s *PrometheusSink) JobRemoved(reason string)  { s.jobsRemoved.WithLabelValues(reason).Inc() }
func (s *PrometheusSink) ScheduledJobs(n int)       { s.scheduledJobs.Set(float64(n)) }
func (s *PrometheusSink) Misfire()                  { s.misfires.Inc() }

func (s *PrometheusSink) FiringLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	s.firingLag.Observe(lag.Seconds())
}

func (s *PrometheusSink) FiringCompleted(outcome string, duration time.Duration) {
	s.firings.WithLabelValues(outcome).Inc()
	s.firingDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) NotificationSent(ok bool) {
	s.notifications.WithLabelValues(result(ok)).Inc()
}

func (s *PrometheusSink) DeliveryAttempt(attempt int, ok bool) {
	s.deliveryAttempts.WithLabelValues(strconv.Itoa(attempt), result(ok)).Inc()
}

func (s *PrometheusSink) CacheLookup(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	s.cacheLookups.WithLabelValues(label).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
