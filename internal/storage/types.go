package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file, compacted to the newest Retain records
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds how many records are kept. 0 means 10000.
	Retain int
}

// FiringRecord is one journal line. Keep it compact and schema-stable.
type FiringRecord struct {
	FiringID    string    `json:"firing_id"`
	Job         string    `json:"job"`
	Trigger     string    `json:"trigger"`
	EventID     int64     `json:"event_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	Delivered   int       `json:"delivered"`
	Failures    int       `json:"failures"`
	FireCount   int64     `json:"fire_count"`
	Error       string    `json:"error,omitempty"`
}

// Journal persists firing records.
type Journal interface {
	AppendFiring(ctx context.Context, r FiringRecord) error
	// RecentFirings returns up to limit records, newest first.
	RecentFirings(ctx context.Context, limit int) ([]FiringRecord, error)
	Close() error
}

const defaultRetain = 10000
