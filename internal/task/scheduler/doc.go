// Package scheduler is the reminder schedule registry.
//
// It owns fire specs (one-shot instants, year-pinned calendar expressions
// and recurring cron expressions), computes trigger times, and hands due
// firings to the task engine. Execution happens in engine.Service; the
// registry keeps per-job bookkeeping and lifecycle.
package scheduler
