package sched

import "sync/atomic"

// Execution is the per-firing context handed to context-aware task bodies.
// A fresh one is created for every firing.
//
// Cancel is the capability a body uses to stop its own task: the executor
// consults the flag right after the body returns, so the current firing
// always finishes. This avoids handing bodies a reference to their own
// handle.
type Execution struct {
	count     int64
	cancelled atomic.Bool
}

// Count returns the 1-based ordinal of this firing.
func (e *Execution) Count() int64 { return e.count }

// Cancel requests that the task stop after this firing completes.
func (e *Execution) Cancel() { e.cancelled.Store(true) }

// Cancelled reports whether Cancel was called during this firing.
func (e *Execution) Cancelled() bool { return e.cancelled.Load() }
