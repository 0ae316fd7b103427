package scheduler

import (
	"context"
	"time"

	"eventreminder/internal/domain"
	"eventreminder/internal/metrics"
	"eventreminder/internal/task/engine"
)

// JobKey names a job. At most one job per key is registered at a time.
type JobKey string

// TriggerKey names the trigger bound to a job.
type TriggerKey string

// Config controls the registry.
type Config struct {
	// Timezone applies to recurring specs without a CRON_TZ prefix.
	Timezone string
	// FiringTimeout bounds one execution. 0 disables the bound.
	FiringTimeout time.Duration
}

type Phase int

const (
	PhaseRegistered Phase = iota
	PhaseDue
	PhaseExecuting
	PhaseCompleted
	PhaseFailed
	PhaseRemoved
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistered:
		return "registered"
	case PhaseDue:
		return "due"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Result is what a job body reports for one firing.
type Result struct {
	Delivered int
	// Failures are per-recipient problems that did not abort the firing.
	Failures []error
}

// Runner executes a job body. A non-nil error fails the firing.
type Runner interface {
	Run(ctx context.Context, key JobKey, st *domain.JobState) (Result, error)
}

type RunnerFunc func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
	return f(ctx, key, st)
}

// Outcome describes one finished (or abandoned) firing. It is published on
// the event bus and delivered to waiters.
type Outcome struct {
	FiringID    string     `json:"firing_id"`
	Job         JobKey     `json:"job"`
	Trigger     TriggerKey `json:"trigger"`
	EventID     int64      `json:"event_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	FireCount   int64      `json:"fire_count"`
	Delivered   int        `json:"delivered"`
	Failures    []error    `json:"-"`
	Err         error      `json:"-"`
	// Skipped is set when the firing never ran the job body.
	Skipped bool `json:"skipped,omitempty"`
}

// Status maps the outcome onto the metrics outcome labels.
func (o Outcome) Status() string {
	switch {
	case o.Skipped:
		return metrics.OutcomeSkipped
	case o.Err != nil:
		return metrics.OutcomeFailed
	case len(o.Failures) > 0:
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeSuccess
	}
}

// JobInfo is a read-only view of one registered job.
type JobInfo struct {
	Key       JobKey
	Trigger   TriggerKey
	Kind      SpecKind
	Spec      string
	Phase     Phase
	EventID   int64
	Label     string
	FireCount int64
	Next      time.Time
	Prev      time.Time
	LastError string
}

// Metadata summarizes the registry.
type Metadata struct {
	RunningSince          time.Time
	NumberOfScheduledJobs int
	Started               bool
	Shutdown              bool
	Timezone              string
	Jobs                  []JobInfo
	Engine                engine.Snapshot
}
