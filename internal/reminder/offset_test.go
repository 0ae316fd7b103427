package reminder

import (
	"errors"
	"testing"
	"time"
)

func TestResolveSubtractsLeadExactly(t *testing.T) {
	t.Parallel()

	start := time.Date(2031, 6, 1, 9, 0, 0, 123, time.UTC)
	cases := []struct {
		lead LeadTime
		want time.Duration
	}{
		{AtEventTime, 0},
		{Before5Min, 300 * time.Second},
		{Before10Min, 600 * time.Second},
		{Before15Min, 900 * time.Second},
		{Before30Min, 1800 * time.Second},
		{Before1Hour, 3600 * time.Second},
		{Before3Days, 3 * 24 * time.Hour},
		{Before1Week, 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		got := Resolve(start, tc.lead)
		if d := start.Sub(got); d != tc.want {
			t.Fatalf("Resolve(%s): start-got=%s, want %s", tc.lead, d, tc.want)
		}
	}
}

func TestResolveSaturates(t *testing.T) {
	t.Parallel()

	start := time.Time{}.Add(time.Minute)
	if got := Resolve(start, Before1Hour); !got.IsZero() {
		t.Fatalf("Resolve near zero=%s, want zero time", got)
	}
	if got := Resolve(start, Before5Min); !got.IsZero() {
		t.Fatalf("Resolve near zero=%s, want zero time", got)
	}
	if got := Resolve(start, AtEventTime); !got.Equal(start) {
		t.Fatalf("Resolve at event time=%s, want %s", got, start)
	}
}

func TestResolveIsExactBeforeYearOne(t *testing.T) {
	t.Parallel()

	start := time.Date(0, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := Resolve(start, AtEventTime); !got.Equal(start) {
		t.Fatalf("Resolve at event time=%s, want %s", got, start)
	}
	if got := Resolve(start, Before1Week); start.Sub(got) != 7*24*time.Hour {
		t.Fatalf("Resolve 1w=%s, want exactly one week before %s", got, start)
	}
}

func TestParseLeadTime(t *testing.T) {
	t.Parallel()

	for _, lead := range []LeadTime{AtEventTime, Before5Min, Before10Min, Before15Min, Before30Min, Before1Hour, Before3Days, Before1Week} {
		got, err := ParseLeadTime(lead.Tag())
		if err != nil || got != lead {
			t.Fatalf("ParseLeadTime(%q)=%v,%v", lead.Tag(), got, err)
		}
	}
	if got, err := ParseLeadTime(" 1W "); err != nil || got != Before1Week {
		t.Fatalf("ParseLeadTime case/space: %v,%v", got, err)
	}
	if _, err := ParseLeadTime("2h"); !errors.Is(err, ErrUnknownLeadTime) {
		t.Fatalf("err=%v, want ErrUnknownLeadTime", err)
	}
}
