package reminder

import (
	"context"
	"errors"
	"fmt"

	"eventreminder/internal/domain"
	"eventreminder/internal/task/scheduler"
	logx "eventreminder/pkg/logx"
)

// RecurringTag is the job key tag of an event's recurring reminder.
const RecurringTag = "cron"

// Service registers reminders for events. It owns its registry.
type Service struct {
	reg   *scheduler.Registry
	store domain.EventStore
	log   logx.Logger
}

func NewService(reg *scheduler.Registry, store domain.EventStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{reg: reg, store: store, log: log}
}

// JobKeyFor is deterministic in (eventID, tag) so repeated calls for the
// same reminder collide.
func JobKeyFor(eventID int64, tag string) scheduler.JobKey {
	return scheduler.JobKey(fmt.Sprintf("event-%d.%s", eventID, tag))
}

func TriggerKeyFor(eventID int64, tag string) scheduler.TriggerKey {
	return scheduler.TriggerKey("trigger." + string(JobKeyFor(eventID, tag)))
}

func (s *Service) Start(ctx context.Context) error { return s.reg.Start(ctx) }

func (s *Service) Shutdown(ctx context.Context, wait bool) error { return s.reg.Shutdown(ctx, wait) }

func (s *Service) Metadata() scheduler.Metadata { return s.reg.Metadata() }

// SendBefore schedules a one-shot reminder lead before ev starts. An
// instant already in the past fires immediately.
func (s *Service) SendBefore(ev domain.Event, lead LeadTime) error {
	if !lead.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownLeadTime, int(lead))
	}
	at := Resolve(ev.StartAt, lead)
	key := JobKeyFor(ev.ID, lead.Tag())
	st := domain.NewJobState(ev.ID, ev.Name, s.store)
	if err := s.reg.Register(key, TriggerKeyFor(ev.ID, lead.Tag()), scheduler.OneShotAt(at), st); err != nil {
		return fmt.Errorf("send before %s: event %d: %w", lead, ev.ID, err)
	}
	s.log.Info("reminder scheduled",
		logx.Int64("event_id", ev.ID),
		logx.String("lead", lead.Tag()),
		logx.Time("fire_at", at),
	)
	return nil
}

func (s *Service) SendBefore5Min(ev domain.Event) error  { return s.SendBefore(ev, Before5Min) }
func (s *Service) SendBefore10Min(ev domain.Event) error { return s.SendBefore(ev, Before10Min) }
func (s *Service) SendBefore15Min(ev domain.Event) error { return s.SendBefore(ev, Before15Min) }
func (s *Service) SendBefore30Min(ev domain.Event) error { return s.SendBefore(ev, Before30Min) }
func (s *Service) SendBefore1Hour(ev domain.Event) error { return s.SendBefore(ev, Before1Hour) }
func (s *Service) SendBefore3Days(ev domain.Event) error { return s.SendBefore(ev, Before3Days) }
func (s *Service) SendBefore1Week(ev domain.Event) error { return s.SendBefore(ev, Before1Week) }

type sendOptions struct {
	wait bool
}

type SendOption func(*sendOptions)

// WithWait makes SendAtEventTime block until the firing finishes or ctx
// ends.
func WithWait() SendOption { return func(o *sendOptions) { o.wait = true } }

// SendAtEventTime schedules a reminder pinned to the event's start second.
// With WithWait it returns the firing outcome; the returned error is then
// the firing's structural error, if any.
func (s *Service) SendAtEventTime(ctx context.Context, eventID int64, opts ...SendOption) (scheduler.Outcome, error) {
	var o sendOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	ev, err := s.lookup(ctx, eventID)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	spec, err := scheduler.CalendarPinned(ev.StartAt)
	if err != nil {
		return scheduler.Outcome{}, fmt.Errorf("send at event time: event %d: %w", eventID, err)
	}

	tag := AtEventTime.Tag()
	key := JobKeyFor(eventID, tag)
	st := domain.NewJobState(eventID, ev.Name, s.store)
	if !o.wait {
		if err := s.reg.Register(key, TriggerKeyFor(eventID, tag), spec, st); err != nil {
			return scheduler.Outcome{}, fmt.Errorf("send at event time: event %d: %w", eventID, err)
		}
		s.log.Info("reminder scheduled", logx.Int64("event_id", eventID), logx.String("spec", spec.String()))
		return scheduler.Outcome{}, nil
	}

	ch, err := s.reg.RegisterWatched(key, TriggerKeyFor(eventID, tag), spec, st)
	if err != nil {
		return scheduler.Outcome{}, fmt.Errorf("send at event time: event %d: %w", eventID, err)
	}
	select {
	case out := <-ch:
		return out, out.Err
	case <-ctx.Done():
		return scheduler.Outcome{}, ctx.Err()
	}
}

// SendRecurring registers a reminder for the event on a cron expression.
// It fires until cancelled or until the event disappears.
func (s *Service) SendRecurring(ctx context.Context, eventID int64, expr string) error {
	spec, err := scheduler.Recurring(expr)
	if err != nil {
		return fmt.Errorf("send recurring: event %d: %w", eventID, err)
	}
	ev, err := s.lookup(ctx, eventID)
	if err != nil {
		return err
	}
	st := domain.NewJobState(eventID, ev.Name, s.store)
	if err := s.reg.Register(JobKeyFor(eventID, RecurringTag), TriggerKeyFor(eventID, RecurringTag), spec, st); err != nil {
		return fmt.Errorf("send recurring: event %d: %w", eventID, err)
	}
	s.log.Info("recurring reminder scheduled", logx.Int64("event_id", eventID), logx.String("spec", spec.String()))
	return nil
}

// Cancel removes the reminder for (eventID, lead). It reports false when
// no such reminder is registered.
func (s *Service) Cancel(eventID int64, lead LeadTime) (bool, error) {
	return s.reg.Cancel(TriggerKeyFor(eventID, lead.Tag()))
}

func (s *Service) CancelRecurring(eventID int64) (bool, error) {
	return s.reg.Cancel(TriggerKeyFor(eventID, RecurringTag))
}

func (s *Service) lookup(ctx context.Context, eventID int64) (domain.Event, error) {
	ev, err := s.store.FindEventByID(ctx, eventID)
	if err == nil {
		return ev, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Event{}, &domain.EventNotFoundError{EventID: eventID, Err: err}
	}
	return domain.Event{}, fmt.Errorf("find event %d: %w", eventID, err)
}
