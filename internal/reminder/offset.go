package reminder

import (
	"fmt"
	"strings"
	"time"
)

// LeadTime is how long before an event's start a reminder fires.
type LeadTime int

const (
	AtEventTime LeadTime = iota
	Before5Min
	Before10Min
	Before15Min
	Before30Min
	Before1Hour
	Before3Days
	Before1Week
)

var leadTimes = []struct {
	lead LeadTime
	tag  string
	d    time.Duration
}{
	{AtEventTime, "at", 0},
	{Before5Min, "5m", 5 * time.Minute},
	{Before10Min, "10m", 10 * time.Minute},
	{Before15Min, "15m", 15 * time.Minute},
	{Before30Min, "30m", 30 * time.Minute},
	{Before1Hour, "1h", time.Hour},
	{Before3Days, "3d", 72 * time.Hour},
	{Before1Week, "1w", 168 * time.Hour},
}

func (l LeadTime) Duration() time.Duration {
	if l < 0 || int(l) >= len(leadTimes) {
		return 0
	}
	return leadTimes[l].d
}

// Tag is the short name used in job keys and config, e.g. "5m" or "1w".
func (l LeadTime) Tag() string {
	if l < 0 || int(l) >= len(leadTimes) {
		return fmt.Sprintf("lead(%d)", int(l))
	}
	return leadTimes[l].tag
}

func (l LeadTime) String() string { return l.Tag() }

func (l LeadTime) valid() bool { return l >= 0 && int(l) < len(leadTimes) }

// ParseLeadTime maps a tag back to its LeadTime.
func ParseLeadTime(tag string) (LeadTime, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, lt := range leadTimes {
		if lt.tag == tag {
			return lt.lead, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLeadTime, tag)
}

// Resolve returns start minus the lead duration. A lead that would carry
// start across the zero time saturates there.
func Resolve(start time.Time, lead LeadTime) time.Time {
	d := lead.Duration()
	var floor time.Time
	if d > 0 && !start.Before(floor) && start.Sub(floor) < d {
		return floor
	}
	return start.Add(-d)
}
