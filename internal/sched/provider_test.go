package sched

import (
	"context"
	"sync"

	"tickforge/internal/affinity"
)

// testProvider is a deterministic, single-goroutine affinity provider: every
// callback runs inline, and time only moves when the test advances it. This
// keeps executor tests free of sleeps and races.
type testDomain struct{ name string }

func (d *testDomain) Name() string { return d.name }

type testTimer struct {
	dom       *testDomain
	due       int64
	period    int64
	fn        func(ctx context.Context)
	cancelled bool
}

type testProvider struct {
	mu   sync.Mutex
	tick int64
	seq  uint64

	global *testDomain
	async  *testDomain
	reg0   *testDomain
	reg1   *testDomain
	multi  bool

	timers   map[affinity.Token]*testTimer
	entities map[uint64]*testDomain
	eseq     uint64
}

func newTestProvider(multi bool) *testProvider {
	return &testProvider{
		global:   &testDomain{name: "global"},
		async:    &testDomain{name: "async"},
		reg0:     &testDomain{name: "region.0"},
		reg1:     &testDomain{name: "region.1"},
		multi:    multi,
		timers:   map[affinity.Token]*testTimer{},
		entities: map[uint64]*testDomain{},
	}
}

func (p *testProvider) run(d *testDomain, fn func(ctx context.Context)) {
	fn(affinity.WithDomain(context.Background(), d))
}

func (p *testProvider) RunNow(d affinity.Domain, fn func(ctx context.Context)) (affinity.Token, error) {
	p.run(d.(*testDomain), fn)
	return 0, nil
}

func (p *testProvider) RunAfterDelay(d affinity.Domain, delayTicks int64, fn func(ctx context.Context)) (affinity.Token, error) {
	if delayTicks <= 0 {
		return p.RunNow(d, fn)
	}
	p.mu.Lock()
	p.seq++
	tok := affinity.Token(p.seq)
	p.timers[tok] = &testTimer{dom: d.(*testDomain), due: p.tick + delayTicks, fn: fn}
	p.mu.Unlock()
	return tok, nil
}

func (p *testProvider) RunRepeating(d affinity.Domain, delayTicks, periodTicks int64, fn func(ctx context.Context)) (affinity.Token, error) {
	if delayTicks < 1 {
		delayTicks = periodTicks
	}
	p.mu.Lock()
	p.seq++
	tok := affinity.Token(p.seq)
	p.timers[tok] = &testTimer{dom: d.(*testDomain), due: p.tick + delayTicks, period: periodTicks, fn: fn}
	p.mu.Unlock()
	return tok, nil
}

func (p *testProvider) Cancel(tok affinity.Token) {
	if tok == 0 {
		return
	}
	p.mu.Lock()
	if t, ok := p.timers[tok]; ok {
		t.cancelled = true
		delete(p.timers, tok)
	}
	p.mu.Unlock()
}

// advance moves time forward one tick at a time, firing due timers inline.
func (p *testProvider) advance(ticks int64) {
	for i := int64(0); i < ticks; i++ {
		p.mu.Lock()
		p.tick++
		now := p.tick
		var fire []*testTimer
		for tok, t := range p.timers {
			if t.due == now {
				if t.period > 0 {
					t.due = now + t.period
				} else {
					delete(p.timers, tok)
				}
				fire = append(fire, t)
			}
		}
		p.mu.Unlock()
		for _, t := range fire {
			p.run(t.dom, t.fn)
		}
	}
}

// jump teleports the tick counter without firing anything, simulating a
// firing that overran several tick slots.
func (p *testProvider) jump(to int64) {
	p.mu.Lock()
	if to > p.tick {
		p.tick = to
	}
	p.mu.Unlock()
}

func (p *testProvider) pendingTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func (p *testProvider) spawnEntity(d *testDomain) affinity.EntityRef {
	p.mu.Lock()
	p.eseq++
	id := p.eseq
	p.entities[id] = d
	p.mu.Unlock()
	return testEntity(id)
}

func (p *testProvider) moveEntity(ref affinity.EntityRef, d *testDomain) {
	p.mu.Lock()
	p.entities[ref.EntityID()] = d
	p.mu.Unlock()
}

func (p *testProvider) removeEntity(ref affinity.EntityRef) {
	p.mu.Lock()
	delete(p.entities, ref.EntityID())
	p.mu.Unlock()
}

type testEntity uint64

func (e testEntity) EntityID() uint64 { return uint64(e) }

type testLocation uint64

func (l testLocation) LocationKey() uint64 { return uint64(l) }

func (p *testProvider) ResolveEntityDomain(ref affinity.EntityRef) (affinity.Domain, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.entities[ref.EntityID()]
	if !ok {
		return p.global, false
	}
	return d, true
}

func (p *testProvider) ResolveLocationDomain(ref affinity.LocationRef) affinity.Domain {
	if !p.multi {
		return p.global
	}
	if ref.LocationKey()%2 == 0 {
		return p.reg0
	}
	return p.reg1
}

func (p *testProvider) GlobalDomain() affinity.Domain { return p.global }
func (p *testProvider) AsyncDomain() affinity.Domain  { return p.async }

func (p *testProvider) IsCurrentDomain(ctx context.Context, d affinity.Domain) bool {
	cur, ok := affinity.FromContext(ctx)
	return ok && cur == d
}

func (p *testProvider) SupportsMultiDomain() bool { return p.multi }

func (p *testProvider) CurrentTick() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tick
}
