// Package metrics defines the instrumentation hooks the sync engine
// reports into. The engine only ever talks to the Collector interface;
// deployments pick the Prometheus implementation or the no-op.
package metrics

import "time"

// Collector receives instrumentation events from the engine.
// Implementations must be safe for concurrent use.
type Collector interface {
	// RecordSyncStart is called when a cycle begins its first attempt.
	RecordSyncStart()

	// RecordSyncSuccess is called after a cycle completes, with the
	// counts of applied and pushed records.
	RecordSyncSuccess(duration time.Duration, pulled, pushed int)

	// RecordSyncFailure is called after retries are exhausted. kind is
	// the error taxonomy bucket (network, rejected, storage, offline).
	RecordSyncFailure(duration time.Duration, kind string)

	// RecordRetry is called for every attempt after the first.
	RecordRetry()

	// RecordTriggerDropped is called when a trigger fires while a run is
	// already in flight and is discarded.
	RecordTriggerDropped(reason string)

	// RecordPendingRecords reports the current unsynced backlog size.
	RecordPendingRecords(count int)
}

// Noop discards all events. It is the default collector.
type Noop struct{}

var _ Collector = Noop{}

func (Noop) RecordSyncStart()                          {}
func (Noop) RecordSyncSuccess(time.Duration, int, int) {}
func (Noop) RecordSyncFailure(time.Duration, string)   {}
func (Noop) RecordRetry()                              {}
func (Noop) RecordTriggerDropped(string)               {}
func (Noop) RecordPendingRecords(int)                  {}
