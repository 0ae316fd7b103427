package eventstore

import (
	"context"
	"strings"
	"sync"

	"eventreminder/internal/domain"
)

// Memory is a map-backed store. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	events map[int64]domain.Event
	users  map[string]domain.User
}

func NewMemory() *Memory {
	return &Memory{events: map[int64]domain.Event{}, users: map[string]domain.User{}}
}

func (m *Memory) FindEventByID(ctx context.Context, id int64) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	ev.Participants = append([]string(nil), ev.Participants...)
	return ev, nil
}

func (m *Memory) FindUserByName(ctx context.Context, name string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.TrimSpace(name)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *Memory) PutEvent(ctx context.Context, ev domain.Event) error {
	ev.Participants = append([]string(nil), ev.Participants...)
	m.mu.Lock()
	m.events[ev.ID] = ev
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutUser(ctx context.Context, u domain.User) error {
	m.mu.Lock()
	m.users[strings.TrimSpace(u.Name)] = u
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteEvent(ctx context.Context, id int64) error {
	m.mu.Lock()
	delete(m.events, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
