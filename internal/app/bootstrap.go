package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eventreminder/internal/config"
	"eventreminder/internal/domain"
	"eventreminder/internal/reminder"
	"eventreminder/internal/task/scheduler"
	logx "eventreminder/pkg/logx"
)

// reminderKey identifies a configured reminder across reloads. A changed
// cron expression is a different reminder.
type reminderKey struct {
	eventID int64
	lead    string
	cron    string
}

func keyOf(rc config.ReminderConfig) reminderKey {
	return reminderKey{
		eventID: rc.EventID,
		lead:    strings.TrimSpace(rc.Lead),
		cron:    strings.TrimSpace(rc.Cron),
	}
}

// validateReminders checks what config.Validate cannot: lead tags and cron
// expressions.
func validateReminders(list []config.ReminderConfig) error {
	var errs []error
	for i, rc := range list {
		k := keyOf(rc)
		if k.cron != "" {
			if _, err := scheduler.Recurring(k.cron); err != nil {
				errs = append(errs, fmt.Errorf("reminders[%d].cron: %w", i, err))
			}
			continue
		}
		if _, err := reminder.ParseLeadTime(k.lead); err != nil {
			errs = append(errs, fmt.Errorf("reminders[%d].lead: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) registerReminder(ctx context.Context, k reminderKey) error {
	if k.cron != "" {
		return a.reminders.SendRecurring(ctx, k.eventID, k.cron)
	}
	lead, err := reminder.ParseLeadTime(k.lead)
	if err != nil {
		return err
	}
	if lead == reminder.AtEventTime {
		_, err := a.reminders.SendAtEventTime(ctx, k.eventID)
		return err
	}
	ev, err := a.store.FindEventByID(ctx, k.eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.EventNotFoundError{EventID: k.eventID, Err: err}
		}
		return fmt.Errorf("find event %d: %w", k.eventID, err)
	}
	return a.reminders.SendBefore(ev, lead)
}

func (a *App) cancelReminder(k reminderKey) (bool, error) {
	if k.cron != "" {
		return a.reminders.CancelRecurring(k.eventID)
	}
	lead, err := reminder.ParseLeadTime(k.lead)
	if err != nil {
		return false, err
	}
	return a.reminders.Cancel(k.eventID, lead)
}

// reconcileReminders cancels active reminders missing from next and
// registers the rest. Only reminders that registered count as active, so an
// entry that failed is retried on the next reload. A failing entry is logged
// and skipped.
func (a *App) reconcileReminders(ctx context.Context, next []config.ReminderConfig) (added, removed int, err error) {
	want := make(map[reminderKey]struct{}, len(next))
	for _, rc := range next {
		want[keyOf(rc)] = struct{}{}
	}

	a.remMu.Lock()
	defer a.remMu.Unlock()
	if a.active == nil {
		a.active = make(map[reminderKey]struct{})
	}

	var errs []error
	for k := range a.active {
		if _, keep := want[k]; keep {
			continue
		}
		ok, cerr := a.cancelReminder(k)
		if cerr != nil {
			errs = append(errs, fmt.Errorf("cancel reminder for event %d: %w", k.eventID, cerr))
			continue
		}
		delete(a.active, k)
		if ok {
			removed++
		}
	}
	for _, rc := range next {
		k := keyOf(rc)
		if _, exists := a.active[k]; exists {
			continue
		}
		if rerr := a.registerReminder(ctx, k); rerr != nil {
			a.log.Warn("configured reminder not registered",
				logx.Int64("event_id", k.eventID),
				logx.String("lead", k.lead),
				logx.String("cron", k.cron),
				logx.Err(rerr),
			)
			errs = append(errs, rerr)
			continue
		}
		a.active[k] = struct{}{}
		added++
	}
	return added, removed, errors.Join(errs...)
}
