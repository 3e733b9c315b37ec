package clock

import (
	"sync"
	"time"
)

// Virtual is a Clock whose time only moves when Advance is called.
// Timers created via After fire, in deadline order, as time passes them.
type Virtual struct {
	mu      sync.Mutex
	current time.Time
	timers  []*virtualTimer
}

type virtualTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual creates a virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{current: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := v.current.Add(d)
	if !deadline.After(v.current) {
		ch <- v.current
		return ch
	}
	v.timers = append(v.timers, &virtualTimer{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached. Negative or zero durations are no-ops.
func (v *Virtual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.current = v.current.Add(d)
	remaining := v.timers[:0]
	for _, t := range v.timers {
		if t.deadline.After(v.current) {
			remaining = append(remaining, t)
			continue
		}
		t.ch <- v.current
	}
	v.timers = remaining
}

// PendingTimers reports how many timers have not fired yet.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}
