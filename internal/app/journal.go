package app

import (
	"context"
	"time"

	"eventreminder/internal/config"
	"eventreminder/internal/eventbus"
	"eventreminder/internal/storage"
	"eventreminder/internal/task/scheduler"
	logx "eventreminder/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// journalRecorder appends every firing outcome published on the bus to
// the firing journal. It outlives the app supervisor so outcomes of
// firings drained during shutdown are still recorded.
type journalRecorder struct {
	j     storage.Journal
	log   logx.Logger
	unsub func()
	done  chan struct{}
}

func startJournal(bus eventbus.Bus, j storage.Journal, log logx.Logger) *journalRecorder {
	events, unsub := bus.Subscribe(256)
	r := &journalRecorder{j: j, log: log, unsub: unsub, done: make(chan struct{})}
	go r.run(events)
	return r
}

func (r *journalRecorder) run(events <-chan eventbus.Event) {
	defer close(r.done)
	for e := range events {
		if e.Type != eventbus.TopicReminderCompleted && e.Type != eventbus.TopicReminderFailed {
			continue
		}
		o, ok := e.Data.(scheduler.Outcome)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		err := r.j.AppendFiring(ctx, recordOf(o))
		cancel()
		if err != nil {
			r.log.Warn("journal append failed", logx.String("job", string(o.Job)), logx.Err(err))
		}
	}
}

// stop unsubscribes, lets buffered events flush and waits for the writer.
func (r *journalRecorder) stop(ctx context.Context) error {
	r.unsub()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recordOf(o scheduler.Outcome) storage.FiringRecord {
	rec := storage.FiringRecord{
		FiringID:    o.FiringID,
		Job:         string(o.Job),
		Trigger:     string(o.Trigger),
		EventID:     o.EventID,
		ScheduledAt: o.ScheduledAt,
		StartedAt:   o.StartedAt,
		FinishedAt:  o.FinishedAt,
		Status:      o.Status(),
		Delivered:   o.Delivered,
		Failures:    len(o.Failures),
		FireCount:   o.FireCount,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}

// RecentFirings opens the journal configured in cfgPath and returns up to
// limit records, newest first. It returns nil when the journal is off.
func RecentFirings(ctx context.Context, cfgPath string, limit int) ([]storage.FiringRecord, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	j, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.RecentFirings(ctx, limit)
}
