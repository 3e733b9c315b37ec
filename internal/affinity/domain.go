package affinity

import (
	"context"
	"sync"
)

// hostDomain is an unbounded serial mailbox. Scheduled callbacks must never
// be dropped, so the queue grows instead of applying backpressure; the tick
// loop stays responsive regardless of how slow a domain is draining.
type hostDomain struct {
	name    string
	workers int

	mu   sync.Mutex
	q    []func(ctx context.Context)
	wake chan struct{}
}

func newHostDomain(name string, workers int) *hostDomain {
	if workers <= 0 {
		workers = 1
	}
	return &hostDomain{
		name:    name,
		workers: workers,
		wake:    make(chan struct{}, 1),
	}
}

func (d *hostDomain) Name() string { return d.name }

func (d *hostDomain) push(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.q = append(d.q, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *hostDomain) pop() (func(ctx context.Context), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.q) == 0 {
		return nil, false
	}
	fn := d.q[0]
	d.q[0] = nil
	d.q = d.q[1:]
	return fn, true
}

func (d *hostDomain) queueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.q)
}
