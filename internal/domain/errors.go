package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	ErrEventNotFound       = errors.New("event not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDelivery            = errors.New("delivery failed")
)

// EventNotFoundError is returned when a firing's event no longer exists.
// It is terminal: the job is removed and nothing is sent.
type EventNotFoundError struct {
	EventID int64
	Err     error
}

func (e *EventNotFoundError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("event %d: %v", e.EventID, e.Err)
	}
	return fmt.Sprintf("event %d not found", e.EventID)
}

func (e *EventNotFoundError) Unwrap() error { return e.Err }

func (e *EventNotFoundError) Is(target error) bool { return target == ErrEventNotFound }

// ParticipantNotFoundError reports one unresolvable participant. Other
// participants of the same firing are still notified.
type ParticipantNotFoundError struct {
	EventID int64
	Name    string
	Err     error
}

func (e *ParticipantNotFoundError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("event %d: participant %q: %v", e.EventID, e.Name, e.Err)
	}
	return fmt.Sprintf("event %d: participant %q not found", e.EventID, e.Name)
}

func (e *ParticipantNotFoundError) Unwrap() error { return e.Err }

func (e *ParticipantNotFoundError) Is(target error) bool { return target == ErrParticipantNotFound }

// DeliveryError reports a mailer failure for one recipient.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }
