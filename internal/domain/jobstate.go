package domain

import (
	"sync"
	"sync/atomic"
)

// JobState is the mutable state carried by one registered reminder job.
// It lives as long as the job's registry entry. The fire count is only
// advanced by the job body, and reads are safe from any goroutine.
type JobState struct {
	EventID int64
	Store   EventStore

	fires atomic.Int64

	mu    sync.Mutex
	label string
}

func NewJobState(eventID int64, label string, store EventStore) *JobState {
	return &JobState{EventID: eventID, Store: store, label: label}
}

func (s *JobState) FireCount() int64 { return s.fires.Load() }

// RecordFiring advances the fire count and returns the new value.
func (s *JobState) RecordFiring() int64 { return s.fires.Add(1) }

func (s *JobState) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

func (s *JobState) SetLabel(label string) {
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
}
