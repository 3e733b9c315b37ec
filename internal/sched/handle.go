package sched

import "time"

// Handle is the caller-facing lifecycle controller for a submitted task.
// It is a thin, thread-safe view: it never mutates task state directly, all
// mutation goes through the Executor so a caller cancelling can never race
// the executor firing.
type Handle struct {
	t  *Task
	ex *Executor
}

func (h *Handle) ID() string   { return h.t.id }
func (h *Handle) Name() string { return h.t.name }

// State returns the task's current lifecycle state.
func (h *Handle) State() TaskState { return h.t.currentState() }

// IsActive reports whether the task can still fire.
func (h *Handle) IsActive() bool { return !h.t.currentState().Terminal() }

// IsCancelled reports whether the task ended in CANCELLED.
func (h *Handle) IsCancelled() bool { return h.t.currentState() == StateCancelled }

// IsDone reports whether the task reached any terminal state.
func (h *Handle) IsDone() bool { return h.t.currentState().Terminal() }

// Cancel requests cancellation. It is idempotent and reports whether this
// call caused the cancellation (false if the task was already terminal or a
// cancel was already pending).
//
// Cancellation is cooperative: a RUNNING firing finishes; only the next
// firing is suppressed.
func (h *Handle) Cancel() bool { return h.ex.cancelTask(h.t) }

// Done returns a channel closed when the task reaches any terminal state.
// This is the future form of the handle.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Err returns the terminal failure, non-nil only when the task ended FAILED
// and no error handler consumed the exception. COMPLETED, CANCELLED and
// RETIRED all report nil; distinguish them via State().
func (h *Handle) Err() error {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if h.t.state != StateFailed {
		return nil
	}
	return h.t.failErr
}

// Await blocks the calling thread until the task reaches a terminal state or
// the timeout elapses. Returns true on terminal state, false on timeout.
// It never blocks a domain thread unless the caller is one.
func (h *Handle) Await(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-h.t.done:
			return true
		default:
			return false
		}
	}
	select {
	case <-h.t.done:
		return true
	case <-h.ex.clk.After(timeout):
		// Late terminal beats the timer if both are ready.
		select {
		case <-h.t.done:
			return true
		default:
			return false
		}
	}
}

// Info returns a consistent snapshot of execution state and metrics.
func (h *Handle) Info() TaskInfo { return h.t.info() }
