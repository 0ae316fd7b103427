// Package storage keeps the firing journal: an append-only record of every
// reminder firing outcome, used for audit and the recent-firings view.
//
// It is an audit trail only. Job state is never restored from it.
package storage
