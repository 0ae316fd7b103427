// Package domain holds the types shared by the reminder scheduler and its
// collaborators: events, users, per-job state and the store/mailer ports.
package domain

import (
	"context"
	"time"
)

// Event is a read-only snapshot of a scheduled gathering.
type Event struct {
	ID           int64     `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Organizer    string    `json:"organizer" yaml:"organizer"`
	StartAt      time.Time `json:"start_at" yaml:"start_at"`
	Participants []string  `json:"participants" yaml:"participants"`
}

type User struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// EventStore resolves events and users. Lookups that find nothing return
// an error matching ErrNotFound. Implementations must be safe for
// concurrent use.
type EventStore interface {
	FindEventByID(ctx context.Context, id int64) (Event, error)
	FindUserByName(ctx context.Context, name string) (User, error)
}

// Mailer delivers one message to a list of recipients.
type Mailer interface {
	Send(ctx context.Context, subject, body string, recipients []string) error
}
