package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"eventreminder/internal/domain"
	"eventreminder/internal/eventbus"
	"eventreminder/internal/metrics"
	"eventreminder/internal/task/engine"
	logx "eventreminder/pkg/logx"
)

// fire hands one due occurrence of e to the engine. A zero at means the
// occurrence e.next was due.
func (r *Registry) fire(e *entry, at time.Time) {
	now := time.Now()

	r.mu.Lock()
	if r.shutdown || r.jobs[e.key] != e {
		r.mu.Unlock()
		return
	}
	if at.IsZero() {
		at = e.next
		if at.IsZero() || at.After(now) {
			at = now
		}
	}
	if e.phase != PhaseExecuting {
		e.phase = PhaseDue
	}
	e.prev = at
	e.timer = nil
	if e.spec.Once() {
		e.next = time.Time{}
	} else {
		e.next = e.spec.Next(now.In(r.loc))
	}
	ctx := r.runCtx
	r.mu.Unlock()

	lag := now.Sub(at)
	if lag < 0 {
		lag = 0
	}
	r.metrics.FiringLag(lag)

	firingID := uuid.NewString()
	err := r.eng.Submit(ctx, engine.Task{
		ID:      firingID,
		Name:    string(e.key),
		Timeout: r.cfg.FiringTimeout,
		// Firings of one key never overlap; a firing that comes due while
		// one runs is parked and later ones coalesce into it. A firing that
		// waited long in the queue still runs, late.
		Opt: engine.TaskOptions{Overlap: engine.OverlapDefer, RetryMax: -1, KeepStale: true},
		Run: func(ctx context.Context) error {
			return r.execute(ctx, e, firingID, at)
		},
	})
	if err == nil {
		return
	}
	r.reportEnqueueError(e.key, err)
	if errors.Is(err, engine.ErrDeferred) {
		return
	}
	r.complete(e, Outcome{
		FiringID:    firingID,
		Job:         e.key,
		Trigger:     e.trigger,
		EventID:     e.state.EventID,
		ScheduledAt: at,
		FinishedAt:  time.Now(),
		FireCount:   e.state.FireCount(),
		Err:         err,
		Skipped:     true,
	})
}

// execute runs on an engine worker.
func (r *Registry) execute(ctx context.Context, e *entry, firingID string, at time.Time) error {
	r.mu.Lock()
	if r.jobs[e.key] != e {
		// Cancelled or shut down while queued.
		r.mu.Unlock()
		return nil
	}
	e.phase = PhaseExecuting
	r.mu.Unlock()

	started := time.Now()
	res, err := r.runSafe(ctx, e)
	o := Outcome{
		FiringID:    firingID,
		Job:         e.key,
		Trigger:     e.trigger,
		EventID:     e.state.EventID,
		ScheduledAt: at,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		FireCount:   e.state.FireCount(),
		Delivered:   res.Delivered,
		Failures:    res.Failures,
		Err:         err,
	}
	r.complete(e, o)
	return err
}

func (r *Registry) runSafe(ctx context.Context, e *entry) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", e.key, rec)
			r.log.Error("job panic recovered", logx.String("job", string(e.key)), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	return r.runner.Run(ctx, e.key, e.state)
}

// complete records the outcome of a firing. One-shot entries and entries
// that failed terminally leave the registry; recurring ones are re-armed.
func (r *Registry) complete(e *entry, o Outcome) {
	terminal := isTerminal(o.Err)

	r.mu.Lock()
	current := r.jobs[e.key] == e
	if o.Err != nil {
		e.lastErr = o.Err.Error()
	} else {
		e.lastErr = ""
	}
	r.resolveLocked(e, o)
	removed := false
	if current {
		switch {
		case e.spec.Once() && !o.Skipped:
			e.phase = phaseOf(o)
			r.removeLocked(e, metrics.RemovedCompleted)
			removed = true
		case terminal:
			e.phase = PhaseFailed
			r.removeLocked(e, metrics.RemovedTerminal)
			removed = true
		case e.spec.Once():
			// Enqueue failed: nothing ran and nothing will.
			r.removeLocked(e, metrics.RemovedTerminal)
			removed = true
		default:
			e.phase = PhaseRegistered
		}
	}
	n := len(r.jobs)
	r.mu.Unlock()

	if removed {
		r.metrics.ScheduledJobs(n)
	}
	var took time.Duration
	if !o.StartedAt.IsZero() {
		took = o.FinishedAt.Sub(o.StartedAt)
	}
	r.metrics.FiringCompleted(o.Status(), took)

	fields := []logx.Field{
		logx.String("job", string(o.Job)),
		logx.String("firing", o.FiringID),
		logx.String("status", o.Status()),
		logx.Int("delivered", o.Delivered),
		logx.Int("failures", len(o.Failures)),
		logx.Int64("fire_count", o.FireCount),
	}
	if o.Err != nil {
		r.publish(eventbus.TopicReminderFailed, o)
		r.log.Warn("firing failed", append(fields, logx.Bool("terminal", terminal), logx.Err(o.Err))...)
		return
	}
	r.publish(eventbus.TopicReminderCompleted, o)
	r.log.Info("firing completed", fields...)
}

func phaseOf(o Outcome) Phase {
	if o.Err != nil {
		return PhaseFailed
	}
	return PhaseCompleted
}

// isTerminal reports errors after which a job can never succeed.
func isTerminal(err error) bool {
	return err != nil && (errors.Is(err, domain.ErrEventNotFound) || errors.Is(err, ErrSpecBuild))
}
