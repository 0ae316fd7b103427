// Package metrics records scheduler and delivery metrics.
package metrics

import "time"

// Sink records metrics. Methods are fire-and-forget: they never block and
// never return errors.
type Sink interface {
	// Registry
	JobRegistered(kind string)
	JobRemoved(reason string)
	ScheduledJobs(n int)
	Misfire()
	FiringLag(lag time.Duration)
	FiringCompleted(outcome string, duration time.Duration)

	// Delivery
	NotificationSent(ok bool)
	DeliveryAttempt(attempt int, ok bool)

	// Event store cache
	CacheLookup(hit bool)
}

// Firing outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Removal reasons.
const (
	RemovedCompleted = "completed"
	RemovedCancelled = "cancelled"
	RemovedTerminal  = "terminal"
	RemovedShutdown  = "shutdown"
)
