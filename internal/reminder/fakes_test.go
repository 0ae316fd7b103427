package reminder

import (
	"context"
	"errors"
	"sync"

	"eventreminder/internal/domain"
)

type fakeStore struct {
	mu     sync.Mutex
	events map[int64]domain.Event
	users  map[string]domain.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events: map[int64]domain.Event{},
		users: map[string]domain.User{
			"name1": {Name: "name1", Email: "one@example.com"},
			"name2": {Name: "name2", Email: "two@example.com"},
			"name3": {Name: "name3", Email: "three@example.com"},
		},
	}
}

func (s *fakeStore) put(ev domain.Event) {
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()
}

func (s *fakeStore) remove(id int64) {
	s.mu.Lock()
	delete(s.events, id)
	s.mu.Unlock()
}

func (s *fakeStore) FindEventByID(ctx context.Context, id int64) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return ev, nil
}

func (s *fakeStore) FindUserByName(ctx context.Context, name string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type sentMail struct {
	subject    string
	body       string
	recipients []string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	// fail makes delivery to these addresses fail.
	fail map[string]bool
}

func (m *fakeMailer) Send(ctx context.Context, subject, body string, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recipients {
		if m.fail[r] {
			return errors.New("mailbox unavailable")
		}
	}
	m.sent = append(m.sent, sentMail{subject: subject, body: body, recipients: append([]string(nil), recipients...)})
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		out = append(out, s.recipients...)
	}
	return out
}
