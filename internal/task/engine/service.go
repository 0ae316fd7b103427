package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"eventreminder/internal/eventbus"
	rtsup "eventreminder/internal/runtime/supervisor"
	logx "eventreminder/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight atomic.Int32

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	deferred       atomic.Uint64
	dropped        atomic.Uint64
	queueFullWaits atomic.Uint64
	droppedStale   atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
	lastStaleWarnAt     atomic.Int64
}

type queuedTask struct {
	task Task

	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions

	state *RunState
	track bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		states: make(map[string]*RunState),
	}
}

// Start launches the worker pool. It is idempotent. Workers are detached
// from ctx cancellation; Drain, Stop and Abort end them.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 256
	}

	s.q = make(chan queuedTask, qsize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		// a crashing worker is restarted, never fatal for the process
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Int("queue", qsize))
}

// Drain stops intake and lets in-flight tasks finish. Queued tasks that
// have not started are discarded. If ctx ends first, in-flight tasks are
// cancelled and ctx.Err() is returned.
func (s *Service) Drain(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done, sup := s.halt(false)
	if done == nil {
		return nil
	}
	select {
	case <-done:
		s.log.Info("task engine drained")
		return nil
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		s.log.Warn("task engine drain timed out; cancelling in-flight tasks", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Abort cancels in-flight tasks and returns without waiting.
func (s *Service) Abort() {
	s.halt(true)
}

func (s *Service) halt(cancel bool) (<-chan struct{}, *rtsup.Supervisor) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil, nil
	}
	sup := s.sup
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		if cancel && sup != nil {
			sup.Cancel()
		}
		return done, sup
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	s.mu.Unlock()

	if cancel && sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
			sup.Cancel()
		}
		s.mu.Lock()
		discarded := 0
		if s.q != nil {
			discarded = len(s.q)
		}
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()

		// Queued runs never finish, so their gates are reset wholesale.
		s.stateMu.Lock()
		s.states = make(map[string]*RunState)
		s.stateMu.Unlock()

		if discarded > 0 {
			s.dropped.Add(uint64(discarded))
			s.log.Warn("task engine discarded queued tasks", logx.Int("count", discarded))
		}
		close(done)
	}()
	return done, sup
}

// Submit enqueues a task and blocks until it is accepted, ctx is done, or
// the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t)
}

func (s *Service) enqueue(ctx context.Context, t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := t.Opt.withDefaults(cfg)
	key := stateKey(t.Name)
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: opt}

	// Gates are looked up and taken under stateMu so ForgetState can never
	// orphan a gate between lookup and acquire.
	s.stateMu.Lock()
	qt.state = s.stateForLocked(key)
	if opt.Overlap == OverlapDefer {
		qt.track = true
		acquired, coalesced := qt.state.acquireOrPark(qt)
		if !acquired {
			s.stateMu.Unlock()
			s.deferred.Add(1)
			s.publish(eventbus.TopicTaskDeferred, TaskEvent{ID: t.ID, Name: t.Name, Started: now})
			s.log.Debug("task deferred behind running instance", logx.String("task", t.Name), logx.String("id", t.ID), logx.Bool("coalesced", coalesced))
			return ErrDeferred
		}
	}
	s.stateMu.Unlock()

	select {
	case q <- qt:
		return nil
	default:
		s.onQueueFull(now, t, q)
	}

	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		s.finish(qt)
		return ctx.Err()
	case <-stopCh:
		s.finish(qt)
		return ErrStopping
	}
}

// finish ends a tracked run and hands its slot to a parked run, if any.
func (s *Service) finish(qt queuedTask) {
	if !qt.track || qt.state == nil {
		return
	}
	s.stateMu.Lock()
	next, ok := qt.state.handoff()
	if !ok && qt.state.forgettable() && s.states[qt.state.key] == qt.state {
		delete(s.states, qt.state.key)
	}
	s.stateMu.Unlock()
	if ok {
		s.requeue(next)
	}
}

func (s *Service) requeue(qt queuedTask) {
	s.mu.Lock()
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil || stopping {
		s.dropped.Add(1)
		s.log.Debug("parked task dropped: engine stopping", logx.String("task", qt.task.Name))
		s.finish(qt)
		return
	}
	qt.enqueuedAt = time.Now()
	select {
	case q <- qt:
		return
	default:
	}
	// Called from workers, so a full queue must not block here.
	go func() {
		select {
		case q <- qt:
		case <-stopCh:
			s.dropped.Add(1)
			s.finish(qt)
		}
	}()
}

// ForgetState drops the overlap gate for a key once nothing is queued or
// running under it.
func (s *Service) ForgetState(key string) {
	key = strings.TrimSpace(key)
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[key]
	if st == nil {
		return
	}
	if st.idle() {
		delete(s.states, key)
		return
	}
	st.setForget(true)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql, qc = len(q), cap(q)
	}

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:        cfg.Enabled,
		Running:        running,
		Workers:        cfg.Workers,
		QueueLen:       ql,
		QueueCap:       qc,
		InFlight:       int(s.inFlight.Load()),
		Deferred:       s.deferred.Load(),
		Dropped:        s.dropped.Load(),
		QueueFullWaits: s.queueFullWaits.Load(),
		DroppedStale:   s.droppedStale.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		MaxQueueDelay:  cfg.MaxQueueDelay,
		RetryMax:       cfg.RetryMax,
		History:        h,
	}
}

func stateKey(name string) string {
	key := strings.TrimSpace(name)
	if key == "" {
		key = "default"
	}
	return key
}

func (s *Service) stateForLocked(key string) *RunState {
	st := s.states[key]
	if st == nil {
		st = &RunState{key: key}
		s.states[key] = st
	}
	st.setForget(false)
	return st
}

func (s *Service) publish(topic string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: ev})
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 200
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

// onQueueFull records a submitter that has to wait for queue space.
func (s *Service) onQueueFull(now time.Time, t Task, q chan queuedTask) {
	s.queueFullWaits.Add(1)
	if shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("task queue full; submitter waiting",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("queue_full_waits", s.queueFullWaits.Load()),
		)
	}
}

func (s *Service) onStaleDropped(now time.Time, t Task, queueDelay time.Duration) {
	s.dropped.Add(1)
	s.droppedStale.Add(1)
	s.publish(eventbus.TopicTaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})

	if shouldWarn(&s.lastStaleWarnAt, now) {
		s.log.Warn("task dropped: stale queue",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", s.droppedStale.Load()),
		)
	}
}
