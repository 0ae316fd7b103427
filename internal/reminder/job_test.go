package reminder

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"eventreminder/internal/domain"
)

func TestJobNotifiesEveryParticipant(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.put(domain.Event{ID: 1, Name: "vc123", StartAt: time.Date(2031, 1, 1, 12, 0, 0, 0, time.UTC), Participants: []string{"name1", "name2", "name3"}})
	mailer := &fakeMailer{}
	job := NewJob(mailer)
	st := domain.NewJobState(1, "", store)

	res, err := job.Run(context.Background(), "event-1.5m", st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"one@example.com", "two@example.com", "three@example.com"}
	if got := mailer.recipients(); !reflect.DeepEqual(got, want) {
		t.Fatalf("recipients=%v, want %v", got, want)
	}
	if res.Delivered != 3 || len(res.Failures) != 0 {
		t.Fatalf("result=%+v", res)
	}
	if st.FireCount() != 1 || st.Label() != "vc123" {
		t.Fatalf("state fires=%d label=%q", st.FireCount(), st.Label())
	}
	for _, m := range mailer.sent {
		if m.subject != Template || !strings.Contains(m.body, "vc123") {
			t.Fatalf("mail=%+v", m)
		}
	}
}

func TestJobDeletedEvent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	mailer := &fakeMailer{}
	st := domain.NewJobState(42, "gone", store)

	_, err := NewJob(mailer).Run(context.Background(), "event-42.5m", st)
	if !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("err=%v, want ErrEventNotFound", err)
	}
	var enf *domain.EventNotFoundError
	if !errors.As(err, &enf) || enf.EventID != 42 {
		t.Fatalf("err=%#v", err)
	}
	if len(mailer.sent) != 0 || st.FireCount() != 0 {
		t.Fatalf("sent=%d fires=%d", len(mailer.sent), st.FireCount())
	}
}

func TestJobMissingParticipant(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.put(domain.Event{ID: 2, Name: "retro", Participants: []string{"name1", "ghost", "name3"}})
	mailer := &fakeMailer{}
	st := domain.NewJobState(2, "", store)

	res, err := NewJob(mailer).Run(context.Background(), "event-2.10m", st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mailer.sent) != 2 || res.Delivered != 2 {
		t.Fatalf("sent=%d delivered=%d", len(mailer.sent), res.Delivered)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures=%v", res.Failures)
	}
	var pnf *domain.ParticipantNotFoundError
	if !errors.As(res.Failures[0], &pnf) || pnf.Name != "ghost" || pnf.EventID != 2 {
		t.Fatalf("failure=%#v", res.Failures[0])
	}
	if st.FireCount() != 1 {
		t.Fatalf("fires=%d, want 1", st.FireCount())
	}
}

func TestJobDeliveryFailureContinues(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.put(domain.Event{ID: 3, Name: "launch", Participants: []string{"name1", "name2", "name3"}})
	mailer := &fakeMailer{fail: map[string]bool{"two@example.com": true}}
	st := domain.NewJobState(3, "", store)

	res, err := NewJob(mailer).Run(context.Background(), "event-3.1h", st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Delivered != 2 || len(res.Failures) != 1 || !errors.Is(res.Failures[0], domain.ErrDelivery) {
		t.Fatalf("result=%+v", res)
	}
	if st.FireCount() != 1 {
		t.Fatalf("fires=%d", st.FireCount())
	}
}

func TestBodyUsesDisplayLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("WIB", 7*3600)
	ev := domain.Event{Name: "standup", StartAt: time.Date(2031, 1, 1, 2, 0, 0, 0, time.UTC)}
	body := Body(ev, domain.User{Name: "name1"}, loc)
	for _, want := range []string{"Upcoming event!", "name1", "standup", "09:00 WIB"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
}
