// Package reminder schedules event reminders: it resolves lead times to
// fire instants, registers one job per (event, lead) pair and, when a job
// fires, mails every participant of the event.
package reminder
