package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eventreminder/internal/domain"
	"eventreminder/internal/eventbus"
	"eventreminder/internal/metrics"
	"eventreminder/internal/task/engine"
	logx "eventreminder/pkg/logx"
)

// Registry maps job keys to fire specs and dispatches due firings onto the
// task engine. It owns the engine's lifecycle.
//
// One-shot specs are armed with timers. Calendar and recurring specs are
// cron entries. Registrations made before Start are kept and armed on Start.
type Registry struct {
	cfg     Config
	eng     *engine.Service
	runner  Runner
	log     logx.Logger
	bus     eventbus.Bus
	metrics metrics.Sink

	mu           sync.Mutex
	loc          *time.Location
	jobs         map[JobKey]*entry
	triggers     map[TriggerKey]JobKey
	c            *cron.Cron
	runCtx       context.Context
	cancel       context.CancelFunc
	started      bool
	shutdown     bool
	runningSince time.Time

	enqMu       sync.Mutex
	lastEnqWarn map[JobKey]time.Time
}

type entry struct {
	key     JobKey
	trigger TriggerKey
	spec    FireSpec
	state   *domain.JobState

	registeredAt time.Time
	phase        Phase
	timer        *time.Timer
	cronID       cron.EntryID
	next         time.Time
	prev         time.Time
	lastErr      string

	waiters []chan Outcome
}

func New(cfg Config, eng *engine.Service, runner Runner, log logx.Logger, bus eventbus.Bus, sink metrics.Sink) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Registry{
		cfg:         cfg,
		eng:         eng,
		runner:      runner,
		log:         log,
		bus:         bus,
		metrics:     sink,
		loc:         loadLocation(cfg.Timezone, log),
		jobs:        map[JobKey]*entry{},
		triggers:    map[TriggerKey]JobKey{},
		lastEnqWarn: map[JobKey]time.Time{},
	}
}

// Start begins dispatch and arms every pending registration. Instants that
// already passed fire immediately. Start is idempotent.
func (r *Registry) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return ErrSchedulerUnavailable
	}
	if r.started {
		return nil
	}

	r.eng.Start(ctx)
	r.runCtx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.c = cron.New(
		cron.WithLocation(r.loc),
		cron.WithLogger(cronLogger{log: r.log}),
	)
	r.started = true
	r.runningSince = time.Now()

	now := time.Now()
	for _, e := range r.sortedLocked() {
		r.armLocked(e, now)
	}
	r.c.Start()
	r.log.Info("registry started", logx.String("tz", r.loc.String()), logx.Int("jobs", len(r.jobs)))
	return nil
}

// Register adds a job under key bound to trigger. Both must be unused.
func (r *Registry) Register(key JobKey, trigger TriggerKey, spec FireSpec, st *domain.JobState) error {
	_, err := r.register(key, trigger, spec, st, false)
	return err
}

// RegisterWatched registers like Register and returns a channel receiving
// the outcome of the job's first firing. Attaching the watcher atomically
// with the registration means a firing that happens immediately is never
// missed.
func (r *Registry) RegisterWatched(key JobKey, trigger TriggerKey, spec FireSpec, st *domain.JobState) (<-chan Outcome, error) {
	return r.register(key, trigger, spec, st, true)
}

func (r *Registry) register(key JobKey, trigger TriggerKey, spec FireSpec, st *domain.JobState, watch bool) (<-chan Outcome, error) {
	key = JobKey(strings.TrimSpace(string(key)))
	trigger = TriggerKey(strings.TrimSpace(string(trigger)))
	if key == "" || trigger == "" {
		return nil, fmt.Errorf("register: job and trigger keys are required")
	}
	if spec.IsZero() {
		return nil, fmt.Errorf("%w: empty fire spec for %s", ErrSpecBuild, key)
	}
	if st == nil {
		return nil, fmt.Errorf("register %s: job state is nil", key)
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil, ErrSchedulerUnavailable
	}
	if _, ok := r.jobs[key]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, key)
	}
	if owner, ok := r.triggers[trigger]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: trigger %s is bound to %s", ErrDuplicateJob, trigger, owner)
	}

	now := time.Now()
	e := &entry{
		key:          key,
		trigger:      trigger,
		spec:         spec,
		state:        st,
		registeredAt: now,
		phase:        PhaseRegistered,
	}
	var ch chan Outcome
	if watch {
		ch = make(chan Outcome, 1)
		e.waiters = append(e.waiters, ch)
	}
	r.jobs[key] = e
	r.triggers[trigger] = key
	if r.started {
		r.armLocked(e, now)
	}
	n := len(r.jobs)
	r.mu.Unlock()

	r.metrics.JobRegistered(spec.Kind().String())
	r.metrics.ScheduledJobs(n)
	r.publish(eventbus.TopicReminderRegistered, JobInfo{Key: key, Trigger: trigger, Kind: spec.Kind(), Spec: spec.String(), EventID: st.EventID})
	r.log.Debug("job registered",
		logx.String("job", string(key)),
		logx.String("trigger", string(trigger)),
		logx.String("spec", spec.String()),
	)
	return ch, nil
}

// Cancel unregisters the job bound to trigger. It reports false when the
// trigger is unknown. A firing already executing runs to completion.
func (r *Registry) Cancel(trigger TriggerKey) (bool, error) {
	trigger = TriggerKey(strings.TrimSpace(string(trigger)))

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return false, ErrSchedulerUnavailable
	}
	key, ok := r.triggers[trigger]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	e := r.jobs[key]
	r.removeLocked(e, metrics.RemovedCancelled)
	n := len(r.jobs)
	r.mu.Unlock()

	r.metrics.ScheduledJobs(n)
	r.publish(eventbus.TopicReminderCancelled, JobInfo{Key: key, Trigger: trigger, Kind: e.spec.Kind(), EventID: e.state.EventID, Phase: PhaseRemoved})
	r.log.Debug("job cancelled", logx.String("job", string(key)), logx.String("trigger", string(trigger)))
	return true, nil
}

// Wait blocks until the next firing of key finishes, the job is removed, or
// ctx ends.
func (r *Registry) Wait(ctx context.Context, key JobKey) (Outcome, error) {
	r.mu.Lock()
	e, ok := r.jobs[key]
	if !ok {
		r.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownJob, key)
	}
	ch := make(chan Outcome, 1)
	e.waiters = append(e.waiters, ch)
	r.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Shutdown stops dispatch and unregisters every job. With wait set, running
// firings finish first and queued ones are discarded; otherwise running
// firings are cancelled and Shutdown returns at once. A second call is a
// no-op.
func (r *Registry) Shutdown(ctx context.Context, wait bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	c := r.c
	cancel := r.cancel
	for _, e := range r.sortedLocked() {
		r.removeLocked(e, metrics.RemovedShutdown)
	}
	r.mu.Unlock()
	r.metrics.ScheduledJobs(0)

	// Unblocks fire calls waiting for queue space.
	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	var err error
	if wait {
		err = r.eng.Drain(ctx)
	} else {
		r.eng.Abort()
	}
	r.log.Info("registry shut down", logx.Bool("wait", wait), logx.Duration("took", time.Since(start)))
	return err
}

// Metadata returns a snapshot of the registry and its worker pool.
func (r *Registry) Metadata() Metadata {
	r.mu.Lock()
	now := time.Now().In(r.loc)
	md := Metadata{
		RunningSince:          r.runningSince,
		NumberOfScheduledJobs: len(r.jobs),
		Started:               r.started,
		Shutdown:              r.shutdown,
		Timezone:              r.loc.String(),
		Jobs:                  make([]JobInfo, 0, len(r.jobs)),
	}
	for _, e := range r.sortedLocked() {
		info := JobInfo{
			Key:       e.key,
			Trigger:   e.trigger,
			Kind:      e.spec.Kind(),
			Spec:      e.spec.String(),
			Phase:     e.phase,
			EventID:   e.state.EventID,
			Label:     e.state.Label(),
			FireCount: e.state.FireCount(),
			Next:      e.next,
			Prev:      e.prev,
			LastError: e.lastErr,
		}
		if info.Next.IsZero() && !e.spec.Once() {
			info.Next = e.spec.Next(now)
		}
		md.Jobs = append(md.Jobs, info)
	}
	r.mu.Unlock()

	md.Engine = r.eng.Snapshot()
	return md
}

func (r *Registry) armLocked(e *entry, now time.Time) {
	if e.spec.Once() {
		at := e.spec.At()
		if !at.After(now) {
			r.misfireLocked(e, at)
			return
		}
		e.next = at
		if e.spec.Kind() == SpecOneShot {
			e.timer = time.AfterFunc(at.Sub(now), func() { r.fire(e, at) })
			return
		}
	} else if missed := e.spec.Next(e.registeredAt.In(r.loc)); !missed.IsZero() && !missed.After(now) {
		// The registry was not running when this occurrence came due.
		r.misfireLocked(e, missed)
	}

	e.cronID = r.c.Schedule(e.spec.sched, cron.FuncJob(func() { r.fire(e, time.Time{}) }))
	if e.next.IsZero() {
		e.next = e.spec.Next(now.In(r.loc))
	}
}

func (r *Registry) misfireLocked(e *entry, at time.Time) {
	r.log.Warn("fire instant already passed; firing now",
		logx.String("job", string(e.key)),
		logx.Time("scheduled_at", at),
	)
	r.metrics.Misfire()
	r.publish(eventbus.TopicReminderMisfire, JobInfo{Key: e.key, Trigger: e.trigger, Kind: e.spec.Kind(), EventID: e.state.EventID, Next: at})
	e.next = at
	go r.fire(e, at)
}

func (r *Registry) disarmLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cronID != 0 && r.c != nil {
		r.c.Remove(e.cronID)
		e.cronID = 0
	}
}

// removeLocked drops e from the tables. Waiters on a firing that is
// executing stay attached and get its outcome; the rest are released with a
// skipped outcome.
func (r *Registry) removeLocked(e *entry, reason string) {
	if r.jobs[e.key] != e {
		return
	}
	r.disarmLocked(e)
	delete(r.jobs, e.key)
	if r.triggers[e.trigger] == e.key {
		delete(r.triggers, e.trigger)
	}
	executing := e.phase == PhaseExecuting
	e.phase = PhaseRemoved
	if !executing {
		r.resolveLocked(e, Outcome{
			Job:       e.key,
			Trigger:   e.trigger,
			EventID:   e.state.EventID,
			FireCount: e.state.FireCount(),
			Skipped:   true,
			Err:       fmt.Errorf("job %s removed: %s", e.key, reason),
		})
	}
	r.eng.ForgetState(string(e.key))
	r.metrics.JobRemoved(reason)
}

func (r *Registry) resolveLocked(e *entry, o Outcome) {
	for _, ch := range e.waiters {
		ch <- o
	}
	e.waiters = nil
}

func (r *Registry) sortedLocked() []*entry {
	out := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (r *Registry) publish(topic string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: topic, Data: data})
}

func loadLocation(name string, log logx.Logger) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn("invalid timezone; falling back to local", logx.String("tz", name), logx.Err(err))
		return time.Local
	}
	return loc
}
