// Package metrics holds the engine's operator-facing counters. Failures in
// the background pipeline never reach a user directly; these counters plus
// the structured logs are the observability surface.
package metrics

import "sync/atomic"

type Counters struct {
	SweepsRun         atomic.Int64
	SweepsSkipped     atomic.Int64
	DueFound          atomic.Int64
	Processed         atomic.Int64
	DuplicatesSkipped atomic.Int64
	StoreErrors       atomic.Int64
	EvaluationsRun    atomic.Int64
	AlertsSent        atomic.Int64
	NotifyErrors      atomic.Int64
}

var Engine Counters

// Snapshot returns the current counter values for the ops endpoint.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"sweeps_run":         Engine.SweepsRun.Load(),
		"sweeps_skipped":     Engine.SweepsSkipped.Load(),
		"due_found":          Engine.DueFound.Load(),
		"processed":          Engine.Processed.Load(),
		"duplicates_skipped": Engine.DuplicatesSkipped.Load(),
		"store_errors":       Engine.StoreErrors.Load(),
		"evaluations_run":    Engine.EvaluationsRun.Load(),
		"alerts_sent":        Engine.AlertsSent.Load(),
		"notify_errors":      Engine.NotifyErrors.Load(),
	}
}
