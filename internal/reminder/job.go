package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventreminder/internal/domain"
	"eventreminder/internal/metrics"
	"eventreminder/internal/task/scheduler"
	logx "eventreminder/pkg/logx"
)

// Template is the mail subject every reminder is sent with.
const Template = "reminder"

// Job is the body run for every reminder firing. It implements
// scheduler.Runner.
type Job struct {
	mailer  domain.Mailer
	log     logx.Logger
	metrics metrics.Sink
	loc     *time.Location
}

type JobOption func(*Job)

func WithJobLogger(log logx.Logger) JobOption { return func(j *Job) { j.log = log } }

func WithJobMetrics(sink metrics.Sink) JobOption { return func(j *Job) { j.metrics = sink } }

// WithDisplayLocation sets the zone the event start is rendered in.
func WithDisplayLocation(loc *time.Location) JobOption { return func(j *Job) { j.loc = loc } }

func NewJob(mailer domain.Mailer, opts ...JobOption) *Job {
	j := &Job{mailer: mailer, log: logx.Nop(), metrics: metrics.NewNoopSink(), loc: time.UTC}
	for _, o := range opts {
		if o != nil {
			o(j)
		}
	}
	if j.loc == nil {
		j.loc = time.UTC
	}
	return j
}

// Run notifies every participant of the job's event. A missing event fails
// the firing; a missing participant or failed delivery is recorded in the
// result and the remaining participants are still notified.
func (j *Job) Run(ctx context.Context, key scheduler.JobKey, st *domain.JobState) (scheduler.Result, error) {
	var res scheduler.Result
	if st.Store == nil {
		return res, fmt.Errorf("job %s: no event store", key)
	}

	ev, err := st.Store.FindEventByID(ctx, st.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return res, &domain.EventNotFoundError{EventID: st.EventID, Err: err}
		}
		return res, fmt.Errorf("job %s: find event %d: %w", key, st.EventID, err)
	}

	log := j.log.With(logx.String("job", string(key)), logx.Int64("event_id", ev.ID))
	for _, name := range ev.Participants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		user, err := st.Store.FindUserByName(ctx, name)
		if err != nil {
			log.Warn("participant lookup failed", logx.String("participant", name), logx.Err(err))
			res.Failures = append(res.Failures, &domain.ParticipantNotFoundError{EventID: ev.ID, Name: name, Err: err})
			continue
		}
		err = j.mailer.Send(ctx, Template, Body(ev, user, j.loc), []string{user.Email})
		j.metrics.NotificationSent(err == nil)
		if err != nil {
			log.Warn("reminder delivery failed", logx.String("recipient", user.Email), logx.Err(err))
			res.Failures = append(res.Failures, &domain.DeliveryError{Recipient: user.Email, Err: err})
			continue
		}
		res.Delivered++
	}

	n := st.RecordFiring()
	st.SetLabel(ev.Name)
	log.Debug("reminder firing done",
		logx.Int("delivered", res.Delivered),
		logx.Int("failures", len(res.Failures)),
		logx.Int64("fire_count", n),
	)
	return res, nil
}

// Body renders the reminder text for one participant.
func Body(ev domain.Event, user domain.User, loc *time.Location) string {
	return fmt.Sprintf("Upcoming event! Hi %s, %q starts %s. Excited?",
		user.Name, ev.Name, FormatInstant(ev.StartAt, loc, "Mon Jan 2 2006 15:04 MST"))
}

// FormatInstant renders t in loc. A nil loc means UTC.
func FormatInstant(t time.Time, loc *time.Location, layout string) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = time.RFC3339
	}
	return t.In(loc).Format(layout)
}
