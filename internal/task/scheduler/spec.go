package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecOneShot SpecKind = iota + 1
	SpecCalendar
	SpecRecurring
)

func (k SpecKind) String() string {
	switch k {
	case SpecOneShot:
		return "oneshot"
	case SpecCalendar:
		return "calendar"
	case SpecRecurring:
		return "recurring"
	default:
		return "invalid"
	}
}

// FireSpec describes when a job fires. Build it with OneShotAt,
// CalendarPinned, CalendarPinnedFields or Recurring.
type FireSpec struct {
	kind  SpecKind
	at    time.Time
	expr  string
	sched cron.Schedule
}

// SecondOptional accepts both 5-field and 6-field (with seconds) specs.
var recurringParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var calendarParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// OneShotAt fires once at the given instant.
func OneShotAt(at time.Time) FireSpec {
	return FireSpec{kind: SpecOneShot, at: at}
}

// CalendarPinned encodes an instant as a calendar expression pinned to its
// UTC second, minute, hour, day, month and year, with day-of-week left open.
// Sub-second precision is dropped.
func CalendarPinned(at time.Time) (FireSpec, error) {
	u := at.UTC()
	return CalendarPinnedFields(u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute(), u.Second())
}

// CalendarPinnedFields builds a calendar spec from UTC fields. It rejects
// dates that do not exist, such as April 31 or February 29 of a common year.
func CalendarPinnedFields(year, month, day, hour, minute, second int) (FireSpec, error) {
	switch {
	case month < 1 || month > 12:
		return FireSpec{}, fmt.Errorf("%w: month %d out of range", ErrSpecBuild, month)
	case hour < 0 || hour > 23:
		return FireSpec{}, fmt.Errorf("%w: hour %d out of range", ErrSpecBuild, hour)
	case minute < 0 || minute > 59:
		return FireSpec{}, fmt.Errorf("%w: minute %d out of range", ErrSpecBuild, minute)
	case second < 0 || second > 59:
		return FireSpec{}, fmt.Errorf("%w: second %d out of range", ErrSpecBuild, second)
	case day < 1 || day > daysIn(year, time.Month(month)):
		return FireSpec{}, fmt.Errorf("%w: day %d does not exist in %04d-%02d", ErrSpecBuild, day, year, month)
	}

	expr := fmt.Sprintf("%d %d %d %d %d ?", second, minute, hour, day, month)
	base, err := calendarParser.Parse("CRON_TZ=UTC " + expr)
	if err != nil {
		return FireSpec{}, fmt.Errorf("%w: %v", ErrSpecBuild, err)
	}
	return FireSpec{
		kind:  SpecCalendar,
		at:    time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC),
		expr:  expr + " " + strconv.Itoa(year),
		sched: yearPinned{base: base, year: year},
	}, nil
}

// Recurring parses a cron expression: 5 or 6 fields, or a descriptor such
// as "@daily" or "@every 1h".
func Recurring(expr string) (FireSpec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return FireSpec{}, fmt.Errorf("%w: empty cron expression", ErrSpecBuild)
	}
	sched, err := recurringParser.Parse(expr)
	if err != nil {
		return FireSpec{}, fmt.Errorf("%w: %v", ErrSpecBuild, err)
	}
	return FireSpec{kind: SpecRecurring, expr: expr, sched: sched}, nil
}

func (f FireSpec) Kind() SpecKind { return f.kind }

// At is the fire instant of one-shot and calendar specs.
func (f FireSpec) At() time.Time { return f.at }

func (f FireSpec) Expr() string { return f.expr }

func (f FireSpec) IsZero() bool { return f.kind == 0 }

// Once reports whether the spec fires at most once.
func (f FireSpec) Once() bool { return f.kind == SpecOneShot || f.kind == SpecCalendar }

// Next returns the first fire time strictly after t, or the zero time if
// the spec never fires again.
func (f FireSpec) Next(t time.Time) time.Time {
	switch f.kind {
	case SpecOneShot:
		if t.Before(f.at) {
			return f.at
		}
		return time.Time{}
	case SpecCalendar, SpecRecurring:
		if f.sched == nil {
			return time.Time{}
		}
		return f.sched.Next(t)
	default:
		return time.Time{}
	}
}

func (f FireSpec) String() string {
	switch f.kind {
	case SpecOneShot:
		return "at " + f.at.UTC().Format(time.RFC3339Nano)
	case SpecCalendar, SpecRecurring:
		return f.expr
	default:
		return "<invalid>"
	}
}

// yearPinned restricts a calendar schedule to a single year, which the
// cron field set cannot express.
type yearPinned struct {
	base cron.Schedule
	year int
}

func (y yearPinned) Next(t time.Time) time.Time {
	u := t.UTC()
	if u.Year() > y.year {
		return time.Time{}
	}
	if u.Year() < y.year {
		u = time.Date(y.year, time.January, 1, 0, 0, 0, 0, time.UTC).Add(-time.Second)
	}
	n := y.base.Next(u)
	if n.IsZero() || n.Year() != y.year {
		return time.Time{}
	}
	return n
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
