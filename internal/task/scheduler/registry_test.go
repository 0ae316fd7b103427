package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventreminder/internal/domain"
	"eventreminder/internal/eventbus"
	"eventreminder/internal/task/engine"
	logx "eventreminder/pkg/logx"
)

// everySchedule fires at a fixed sub-second interval, which cron
// expressions cannot express.
type everySchedule struct{ d time.Duration }

func (s everySchedule) Next(t time.Time) time.Time { return t.Add(s.d) }

func every(d time.Duration) FireSpec {
	return FireSpec{kind: SpecRecurring, expr: "every " + d.String(), sched: everySchedule{d: d}}
}

func countingRunner() (Runner, *atomic.Int32) {
	var runs atomic.Int32
	return RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		runs.Add(1)
		st.RecordFiring()
		return Result{Delivered: 1}, nil
	}), &runs
}

func newTestRegistry(t *testing.T, runner Runner, start bool) *Registry {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2, QueueSize: 16}, logx.Nop(), eventbus.New())
	r := New(Config{Timezone: "UTC"}, eng, runner, logx.Nop(), eventbus.New(), nil)
	if start {
		if err := r.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx, false)
	})
	return r
}

func recv(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for outcome")
		return Outcome{}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterDuplicateAndCancel(t *testing.T) {
	t.Parallel()

	runner, _ := countingRunner()
	r := newTestRegistry(t, runner, true)
	spec := OneShotAt(time.Now().Add(time.Hour))

	if err := r.Register("event-1.5m", "trigger.event-1.5m", spec, domain.NewJobState(1, "", nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register("event-1.5m", "trigger.other", spec, domain.NewJobState(1, "", nil))
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("duplicate key err=%v", err)
	}
	err = r.Register("event-2.5m", "trigger.event-1.5m", spec, domain.NewJobState(2, "", nil))
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("duplicate trigger err=%v", err)
	}

	ok, err := r.Cancel("trigger.event-1.5m")
	if err != nil || !ok {
		t.Fatalf("cancel ok=%v err=%v", ok, err)
	}
	if err := r.Register("event-1.5m", "trigger.event-1.5m", spec, domain.NewJobState(1, "", nil)); err != nil {
		t.Fatalf("re-register after cancel: %v", err)
	}
	ok, err = r.Cancel("trigger.unknown")
	if err != nil || ok {
		t.Fatalf("cancel unknown ok=%v err=%v", ok, err)
	}
	if n := r.Metadata().NumberOfScheduledJobs; n != 1 {
		t.Fatalf("scheduled jobs=%d, want 1", n)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	runner, _ := countingRunner()
	r := newTestRegistry(t, runner, false)
	if err := r.Register("k", "t", FireSpec{}, domain.NewJobState(1, "", nil)); !errors.Is(err, ErrSpecBuild) {
		t.Fatalf("zero spec err=%v", err)
	}
	if err := r.Register("", "t", OneShotAt(time.Now()), domain.NewJobState(1, "", nil)); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := r.Register("k", "t", OneShotAt(time.Now()), nil); err == nil {
		t.Fatalf("expected error for nil state")
	}
}

func TestShutdownMakesRegistryUnavailable(t *testing.T) {
	t.Parallel()

	runner, _ := countingRunner()
	r := newTestRegistry(t, runner, true)
	ch, err := r.RegisterWatched("event-1.1h", "trigger.event-1.1h", OneShotAt(time.Now().Add(time.Hour)), domain.NewJobState(1, "", nil))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Shutdown(context.Background(), true); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if o := recv(t, ch); !o.Skipped {
		t.Fatalf("pending waiter got %+v, want skipped", o)
	}

	if err := r.Register("event-2.1h", "trigger.event-2.1h", OneShotAt(time.Now().Add(time.Hour)), domain.NewJobState(2, "", nil)); !errors.Is(err, ErrSchedulerUnavailable) {
		t.Fatalf("register after shutdown err=%v", err)
	}
	if _, err := r.Cancel("trigger.event-1.1h"); !errors.Is(err, ErrSchedulerUnavailable) {
		t.Fatalf("cancel after shutdown err=%v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrSchedulerUnavailable) {
		t.Fatalf("start after shutdown err=%v", err)
	}
	if err := r.Shutdown(context.Background(), true); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	md := r.Metadata()
	if !md.Shutdown || md.NumberOfScheduledJobs != 0 {
		t.Fatalf("metadata after shutdown: %+v", md)
	}
}

func TestOneShotFiresOnceAndIsRemoved(t *testing.T) {
	t.Parallel()

	runner, runs := countingRunner()
	r := newTestRegistry(t, runner, true)
	st := domain.NewJobState(7, "standup", nil)
	at := time.Now().Add(50 * time.Millisecond)
	ch, err := r.RegisterWatched("event-7.at", "trigger.event-7.at", OneShotAt(at), st)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	o := recv(t, ch)
	if o.Err != nil || o.Skipped {
		t.Fatalf("outcome=%+v", o)
	}
	if o.Status() != "success" || o.FireCount != 1 || o.EventID != 7 {
		t.Fatalf("outcome=%+v", o)
	}
	if o.StartedAt.Before(at) {
		t.Fatalf("started %s before instant %s", o.StartedAt, at)
	}
	waitUntil(t, "job removal", func() bool { return r.Metadata().NumberOfScheduledJobs == 0 })
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 1 {
		t.Fatalf("runs=%d, want 1", runs.Load())
	}
}

func TestPastInstantFiresImmediately(t *testing.T) {
	t.Parallel()

	runner, _ := countingRunner()
	r := newTestRegistry(t, runner, true)
	at := time.Now().Add(-time.Hour)
	spec, err := CalendarPinned(at)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	ch, err := r.RegisterWatched("event-3.1w", "trigger.event-3.1w", spec, domain.NewJobState(3, "", nil))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	o := recv(t, ch)
	if o.Err != nil || o.FireCount != 1 {
		t.Fatalf("outcome=%+v", o)
	}
	if !o.ScheduledAt.Equal(spec.At()) {
		t.Fatalf("scheduled_at=%s, want %s", o.ScheduledAt, spec.At())
	}
}

func TestRegistrationBeforeStartIsArmedOnStart(t *testing.T) {
	t.Parallel()

	runner, runs := countingRunner()
	r := newTestRegistry(t, runner, false)
	ch, err := r.RegisterWatched("event-4.at", "trigger.event-4.at", OneShotAt(time.Now().Add(20*time.Millisecond)), domain.NewJobState(4, "", nil))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("fired before start")
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if o := recv(t, ch); o.Err != nil || o.Skipped {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestRecurringFiresUntilCancelled(t *testing.T) {
	t.Parallel()

	runner, runs := countingRunner()
	r := newTestRegistry(t, runner, true)
	st := domain.NewJobState(5, "", nil)
	if err := r.Register("event-5.digest", "trigger.event-5.digest", every(20*time.Millisecond), st); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitUntil(t, "three firings", func() bool { return st.FireCount() >= 3 })

	md := r.Metadata()
	if len(md.Jobs) != 1 || md.Jobs[0].Kind != SpecRecurring || md.Jobs[0].FireCount < 3 {
		t.Fatalf("metadata=%+v", md.Jobs)
	}
	if ok, err := r.Cancel("trigger.event-5.digest"); !ok || err != nil {
		t.Fatalf("cancel ok=%v err=%v", ok, err)
	}
	time.Sleep(50 * time.Millisecond)
	after := runs.Load()
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("recurring job kept firing after cancel: %d -> %d", after, runs.Load())
	}
}

func TestFiringsOfOneKeyNeverOverlap(t *testing.T) {
	t.Parallel()

	var (
		running, maxRunning atomic.Int32
		runs                atomic.Int32
	)
	runner := RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(80 * time.Millisecond)
		running.Add(-1)
		runs.Add(1)
		st.RecordFiring()
		return Result{}, nil
	})
	r := newTestRegistry(t, runner, true)
	if err := r.Register("event-6.digest", "trigger.event-6.digest", every(10*time.Millisecond), domain.NewJobState(6, "", nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitUntil(t, "three runs", func() bool { return runs.Load() >= 3 })
	if maxRunning.Load() != 1 {
		t.Fatalf("max concurrent firings=%d, want 1", maxRunning.Load())
	}
	if r.Metadata().Engine.Deferred == 0 {
		t.Fatalf("expected deferred firings while one was running")
	}
}

func TestTerminalErrorRemovesRecurringJob(t *testing.T) {
	t.Parallel()

	runner := RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		return Result{}, &domain.EventNotFoundError{EventID: st.EventID, Err: domain.ErrNotFound}
	})
	r := newTestRegistry(t, runner, true)
	if err := r.Register("event-9.digest", "trigger.event-9.digest", every(20*time.Millisecond), domain.NewJobState(9, "", nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitUntil(t, "terminal removal", func() bool { return r.Metadata().NumberOfScheduledJobs == 0 })
	if ok, _ := r.Cancel("trigger.event-9.digest"); ok {
		t.Fatalf("trigger should be gone with its job")
	}
}

func TestPanicBecomesFailedOutcome(t *testing.T) {
	t.Parallel()

	runner := RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		panic("boom")
	})
	r := newTestRegistry(t, runner, true)
	ch, err := r.RegisterWatched("event-8.at", "trigger.event-8.at", OneShotAt(time.Now()), domain.NewJobState(8, "", nil))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	o := recv(t, ch)
	if o.Err == nil || !strings.Contains(o.Err.Error(), "panicked") || o.Status() != "failed" {
		t.Fatalf("outcome=%+v", o)
	}
	waitUntil(t, "job removal", func() bool { return r.Metadata().NumberOfScheduledJobs == 0 })
}

func TestCancelDoesNotInterruptRunningFiring(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	runner := RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		st.RecordFiring()
		return Result{Delivered: 2}, nil
	})
	r := newTestRegistry(t, runner, true)
	ch, err := r.RegisterWatched("event-10.at", "trigger.event-10.at", OneShotAt(time.Now()), domain.NewJobState(10, "", nil))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	<-started
	if ok, err := r.Cancel("trigger.event-10.at"); !ok || err != nil {
		t.Fatalf("cancel ok=%v err=%v", ok, err)
	}
	close(release)
	o := recv(t, ch)
	if o.Err != nil || o.Skipped || o.Delivered != 2 {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestShutdownWaitsForRunningFiring(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished atomic.Bool
	runner := RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return Result{}, nil
	})
	r := newTestRegistry(t, runner, true)
	if err := r.Register("event-11.at", "trigger.event-11.at", OneShotAt(time.Now()), domain.NewJobState(11, "", nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx, true); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("shutdown returned before the running firing finished")
	}
}

func TestWaitUnknownJob(t *testing.T) {
	t.Parallel()

	runner, _ := countingRunner()
	r := newTestRegistry(t, runner, true)
	if _, err := r.Wait(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err=%v, want ErrUnknownJob", err)
	}
}

func TestQueuedFiringRunsLateInsteadOfDropping(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Enabled: true, Workers: 1, QueueSize: 16, MaxQueueDelay: 50 * time.Millisecond}, logx.Nop(), eventbus.New())
	slowStarted := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, key JobKey, st *domain.JobState) (Result, error) {
		if key == "event-20.at" {
			close(slowStarted)
			time.Sleep(300 * time.Millisecond)
		}
		st.RecordFiring()
		return Result{Delivered: 1}, nil
	})
	r := New(Config{Timezone: "UTC"}, eng, runner, logx.Nop(), eventbus.New(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx, false)
	})

	if err := r.Register("event-20.at", "trigger.event-20.at", OneShotAt(time.Now()), domain.NewJobState(20, "", nil)); err != nil {
		t.Fatalf("register slow: %v", err)
	}
	<-slowStarted
	ch, err := r.RegisterWatched("event-21.at", "trigger.event-21.at", OneShotAt(time.Now()), domain.NewJobState(21, "", nil))
	if err != nil {
		t.Fatalf("register queued: %v", err)
	}

	o := recv(t, ch)
	if o.Err != nil || o.Skipped || o.FireCount != 1 {
		t.Fatalf("outcome=%+v", o)
	}
	if lag := o.StartedAt.Sub(o.ScheduledAt); lag < 50*time.Millisecond {
		t.Fatalf("firing should have waited behind the slow one, lag=%s", lag)
	}
	waitUntil(t, "job removal", func() bool { return r.Metadata().NumberOfScheduledJobs == 0 })
	if got := eng.Snapshot().DroppedStale; got != 0 {
		t.Fatalf("dropped_stale=%d, want 0", got)
	}
}
