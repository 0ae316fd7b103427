package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) JobRegistered(kind string)                              {}
func (n *NoopSink) JobRemoved(reason string)                               {}
func (n *NoopSink) ScheduledJobs(count int)                                {}
func (n *NoopSink) Misfire()                                               {}
func (n *NoopSink) FiringLag(lag time.Duration)                            {}
func (n *NoopSink) FiringCompleted(outcome string, duration time.Duration) {}
func (n *NoopSink) NotificationSent(ok bool)                               {}
func (n *NoopSink) DeliveryAttempt(attempt int, ok bool)                   {}
func (n *NoopSink) CacheLookup(hit bool)                                   {}
