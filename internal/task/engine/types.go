package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine.
//
// The registry is trigger-only; execution settings belong here. The app
// layer maps config.task_engine into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapDefer parks a new run while one is queued or running and
	// enqueues it once the current run finishes. At most one run is parked
	// per key; later ones coalesce into it.
	OverlapDefer
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	case OverlapDefer:
		return "defer"
	default:
		return "unknown"
	}
}

type TaskOptions struct {
	Overlap OverlapPolicy
	// RetryMax < 0 disables retries; 0 uses the engine default.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
	// KeepStale runs the task however long it waited in the queue,
	// overriding Config.MaxQueueDelay.
	KeepStale bool
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	switch o.Overlap {
	case OverlapAllow, OverlapDefer:
	default:
		o.Overlap = OverlapAllow
	}
	return o
}

// RunState gates overlapping runs of one key. A run counts as in flight
// from the moment it is queued.
type RunState struct {
	mu       sync.Mutex
	key      string
	inflight int
	parked   *queuedTask
	deferred uint64
	// forget drops the gate from the engine once it goes idle.
	forget bool
}

// acquireOrPark takes the slot, or parks qt behind the current run.
func (s *RunState) acquireOrPark(qt queuedTask) (acquired, coalesced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == 0 {
		s.inflight++
		return true, false
	}
	coalesced = s.parked != nil
	s.parked = &qt
	s.deferred++
	return false, coalesced
}

// handoff ends the current run. A parked run inherits the slot and is
// returned for enqueueing; otherwise the slot is released.
func (s *RunState) handoff() (queuedTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parked != nil {
		next := *s.parked
		s.parked = nil
		return next, true
	}
	if s.inflight > 0 {
		s.inflight--
	}
	return queuedTask{}, false
}

func (s *RunState) setForget(v bool) {
	s.mu.Lock()
	s.forget = v
	s.mu.Unlock()
}

func (s *RunState) forgettable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forget && s.inflight == 0 && s.parked == nil
}

func (s *RunState) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight == 0 && s.parked == nil
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Task is a unit of work executed by the engine. Overlap gating is keyed
// by Name.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Deferred       uint64
	Dropped        uint64
	QueueFullWaits uint64
	DroppedStale   uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}
