package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventreminder/internal/config"
	"eventreminder/internal/domain"
	"eventreminder/internal/eventbus"
	"eventreminder/internal/eventstore"
	"eventreminder/internal/mailer"
	"eventreminder/internal/metrics"
	"eventreminder/internal/reminder"
	"eventreminder/internal/runtime/supervisor"
	"eventreminder/internal/storage"
	"eventreminder/internal/task/engine"
	"eventreminder/internal/task/scheduler"
	logx "eventreminder/pkg/logx"
	"eventreminder/pkg/systemd"
)

const openTimeout = 15 * time.Second

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	metrics metrics.Sink
	promReg *prometheus.Registry

	store   eventstore.Store
	mail    domain.Mailer
	journal storage.Journal
	jrec    *journalRecorder

	engine    *engine.Service
	registry  *scheduler.Registry
	reminders *reminder.Service

	// active holds the configured reminders that registered.
	remMu  sync.Mutex
	active map[reminderKey]struct{}

	sd *systemd.Notifier
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validateReminders(cfg.Reminders); err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		metrics: metrics.NewNoopSink(),
		sd:      systemd.New(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
	}
	if err := a.build(ctx, cfg, log); err != nil {
		a.closeResources()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.metrics = metrics.NewPrometheusSink(a.promReg, log.With(logx.String("comp", "metrics")))
	}

	octx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	esCfg, err := mapEventStoreConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = eventstore.Open(octx, esCfg, log.With(logx.String("comp", "eventstore")), a.metrics)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	mcfg, err := mapMailerConfig(cfg)
	if err != nil {
		return err
	}
	a.mail, err = mailer.Open(mcfg, log.With(logx.String("comp", "mailer")), a.metrics)
	if err != nil {
		return fmt.Errorf("open mailer: %w", err)
	}
	a.logs.SetAlertSender(a.mail)

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		a.journal, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fmt.Errorf("open firing journal: %w", err)
		}
		a.log.Info("firing journal enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	job := reminder.NewJob(a.mail,
		reminder.WithJobLogger(log.With(logx.String("comp", "reminder.job"))),
		reminder.WithJobMetrics(a.metrics),
		reminder.WithDisplayLocation(displayLocation(cfg)),
	)
	a.registry = scheduler.New(schedCfg, a.engine, job, log.With(logx.String("comp", "scheduler")), a.bus, a.metrics)
	a.reminders = reminder.NewService(a.registry, a.store, log.With(logx.String("comp", "reminder")))
	return nil
}

func (a *App) Reminders() *reminder.Service { return a.reminders }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		return validateReminders(cfg.Reminders)
	})

	if a.journal != nil {
		a.jrec = startJournal(a.bus, a.journal, a.log.With(logx.String("comp", "journal")))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.reminders.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.promReg != nil {
		mc := a.cfgm.Get().Metrics
		addr := metricsAddr(a.cfgm.Get())
		a.sup.GoRestart("metrics.http", func(c context.Context) error {
			return metrics.Serve(c, addr, a.promReg, a.log.With(logx.String("comp", "metrics")), metrics.WithPprof(mc.Pprof))
		}, supervisor.WithRestartBackoff(time.Second, 30*time.Second), supervisor.WithMaxRestarts(5))
	}

	cfg := a.cfgm.Get()
	added, _, err := a.reconcileReminders(a.sup.Context(), cfg.Reminders)
	if err != nil {
		a.log.Warn("some configured reminders were not registered", logx.Err(err))
	}
	if len(cfg.Reminders) > 0 {
		a.log.Info("configured reminders registered", logx.Int("registered", added), logx.Int("configured", len(cfg.Reminders)))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if _, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd ready notification failed", logx.Err(err))
	}
	a.notifyStatus()
	a.sup.Go("systemd.watchdog", a.sd.Watchdog)

	a.log.Info("app started", logx.Int("jobs", a.reminders.Metadata().NumberOfScheduledJobs))
	return nil
}

// reloadLoop applies live sections of each published config. Bursts are
// coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, lastApplied *config.Config) {
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		if newCfg == nil {
			continue
		}

		sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			lastApplied = newCfg
			continue
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)

		if pending := config.RestartRequired(sections); len(pending) > 0 {
			a.log.Warn("config sections changed; restart required for them to take effect",
				logx.String("sections", strings.Join(pending, ",")))
		}

		a.logs.Apply(mapLogConfig(newCfg))

		added, removed, err := a.reconcileReminders(ctx, newCfg.Reminders)
		if err != nil {
			a.log.Warn("reminder reconcile incomplete", logx.Err(err))
		}
		if added > 0 || removed > 0 {
			a.log.Info("reminders reconciled", logx.Int("added", added), logx.Int("removed", removed))
		}
		a.notifyStatus()

		lastApplied = newCfg
		a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
	}
}

func (a *App) notifyStatus() {
	md := a.reminders.Metadata()
	if _, err := a.sd.Status(fmt.Sprintf("%d reminder(s) scheduled", md.NumberOfScheduledJobs)); err != nil {
		a.log.Debug("systemd status failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("systemd stopping notification failed", logx.Err(err))
	}

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "reminders", 5*time.Second, func(c context.Context) error { return a.reminders.Shutdown(c, true) })
	a.step(ctx, "journal", 2*time.Second, func(c context.Context) error {
		if a.jrec == nil {
			return nil
		}
		return a.jrec.stop(c)
	})
	a.step(ctx, "resources", 2*time.Second, func(context.Context) error { return a.closeResources() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		return err
	}
	if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// closeResources closes the journal and the event store. It is safe to
// call more than once.
func (a *App) closeResources() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}
