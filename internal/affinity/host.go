package affinity

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tickforge/internal/clock"
	rtsup "tickforge/internal/runtime/supervisor"
	logx "tickforge/pkg/logx"
)

// Config controls an in-process host.
type Config struct {
	// Regions is the number of independently threaded region domains.
	// 0 means a single-domain host: all entity/location/region work runs on
	// the global domain.
	Regions int

	// AsyncWorkers sizes the background pool domain.
	AsyncWorkers int

	// TickInterval is the real duration of one simulation tick.
	TickInterval time.Duration

	// Clock defaults to the system clock. Tests inject a virtual one.
	Clock clock.Clock
}

func (c Config) withDefaults() Config {
	if c.Regions < 0 {
		c.Regions = 0
	}
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = 4
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}

// Host is an in-process Affinity Provider: a tick loop, one goroutine per
// domain (plus the async pool), a tick-indexed timer table, and an
// entity/location ownership table.
type Host struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	global  *hostDomain
	regions []*hostDomain
	async   *hostDomain

	tick   atomic.Int64
	tokSeq atomic.Uint64

	tmu    sync.Mutex
	timers map[Token]*timerEntry
	due    map[int64][]*timerEntry

	emu      sync.Mutex
	entities map[uint64]int // entity id -> owning region index (0 on single hosts)
	eseq     atomic.Uint64

	sup     *rtsup.Supervisor
	stopped chan struct{}
}

type timerEntry struct {
	tok       Token
	dom       *hostDomain
	dueTick   int64
	period    int64
	fn        func(ctx context.Context)
	cancelled bool
}

// NewSingleHost creates a host with only the global domain and the async
// pool: the single-threaded platform model. Regions in cfg are ignored.
func NewSingleHost(cfg Config, log logx.Logger) *Host {
	cfg.Regions = 0
	return newHost(cfg, log)
}

// NewRegionHost creates a host that partitions the world into cfg.Regions
// independently threaded region domains. cfg.Regions must be >= 1.
func NewRegionHost(cfg Config, log logx.Logger) *Host {
	if cfg.Regions < 1 {
		cfg.Regions = 1
	}
	return newHost(cfg, log)
}

func newHost(cfg Config, log logx.Logger) *Host {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Host{
		cfg:      cfg,
		log:      log,
		global:   newHostDomain("global", 1),
		async:    newHostDomain("async", cfg.AsyncWorkers),
		timers:   map[Token]*timerEntry{},
		due:      map[int64][]*timerEntry{},
		entities: map[uint64]int{},
	}
	for i := 0; i < cfg.Regions; i++ {
		h.regions = append(h.regions, newHostDomain(fmt.Sprintf("region.%d", i), 1))
	}
	return h
}

// Start launches the tick loop and all domain loops. Idempotent.
func (h *Host) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()
	if h.sup != nil {
		h.mu.Unlock()
		return
	}
	h.sup = rtsup.New(ctx,
		rtsup.WithLogger(h.log.With(logx.String("comp", "affinity"))),
		// A broken loop should self-heal, not kill the host.
		rtsup.WithCancelOnError(false),
	)
	h.stopped = make(chan struct{})
	sup := h.sup
	h.mu.Unlock()

	sup.GoRestart("tickloop", func(c context.Context) error {
		h.tickLoop(c)
		return c.Err()
	}, rtsup.WithPublishFirstError(true))

	h.startDomain(sup, h.global)
	for _, r := range h.regions {
		h.startDomain(sup, r)
	}
	h.startDomain(sup, h.async)

	h.log.Info("host started",
		logx.Int("regions", len(h.regions)),
		logx.Int("async_workers", h.cfg.AsyncWorkers),
		logx.Duration("tick", h.cfg.TickInterval),
	)
}

func (h *Host) startDomain(sup *rtsup.Supervisor, d *hostDomain) {
	for i := 0; i < d.workers; i++ {
		name := d.name
		if d.workers > 1 {
			name = fmt.Sprintf("%s.%d", d.name, i)
		}
		sup.GoRestart(name, func(c context.Context) error {
			h.runDomain(c, d)
			return c.Err()
		})
	}
}

// Stop cancels all loops and waits for them, bounded by ctx.
func (h *Host) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()
	sup := h.sup
	h.sup = nil
	stopped := h.stopped
	h.mu.Unlock()

	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		h.log.Warn("host stop timed out", logx.Any("err", ctx.Err()))
	} else {
		h.log.Info("host stopped", logx.Int64("ticks", h.tick.Load()))
	}
	if stopped != nil {
		close(stopped)
	}
}

func (h *Host) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.cfg.Clock.After(h.cfg.TickInterval):
		}
		now := h.tick.Add(1)
		h.flushDue(now)
	}
}

func (h *Host) flushDue(tick int64) {
	h.tmu.Lock()
	entries := h.due[tick]
	delete(h.due, tick)

	fire := entries[:0]
	for _, e := range entries {
		if e.cancelled {
			delete(h.timers, e.tok)
			continue
		}
		if e.period > 0 {
			// Nominal cadence: reschedule off the due tick, not completion.
			e.dueTick = tick + e.period
			h.due[e.dueTick] = append(h.due[e.dueTick], e)
		} else {
			delete(h.timers, e.tok)
		}
		fire = append(fire, e)
	}
	h.tmu.Unlock()

	for _, e := range fire {
		e.dom.push(e.fn)
	}
}

func (h *Host) runDomain(ctx context.Context, d *hostDomain) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			for {
				fn, ok := d.pop()
				if !ok {
					break
				}
				h.invoke(ctx, d, fn)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func (h *Host) invoke(ctx context.Context, d *hostDomain, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("callback panicked",
				logx.String("domain", d.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(WithDomain(ctx, d))
}

// ---- Provider ----

var _ Provider = (*Host)(nil)

func (h *Host) RunNow(d Domain, fn func(ctx context.Context)) (Token, error) {
	hd, err := h.own(d)
	if err != nil {
		return 0, err
	}
	hd.push(fn)
	return 0, nil
}

func (h *Host) RunAfterDelay(d Domain, delayTicks int64, fn func(ctx context.Context)) (Token, error) {
	if delayTicks <= 0 {
		return h.RunNow(d, fn)
	}
	return h.schedule(d, delayTicks, 0, fn)
}

func (h *Host) RunRepeating(d Domain, delayTicks, periodTicks int64, fn func(ctx context.Context)) (Token, error) {
	if periodTicks < 1 {
		return 0, fmt.Errorf("affinity: repeating period must be >= 1 tick, got %d", periodTicks)
	}
	if delayTicks < 1 {
		delayTicks = periodTicks
	}
	return h.schedule(d, delayTicks, periodTicks, fn)
}

func (h *Host) schedule(d Domain, delayTicks, periodTicks int64, fn func(ctx context.Context)) (Token, error) {
	hd, err := h.own(d)
	if err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, fmt.Errorf("affinity: callback is nil")
	}
	tok := Token(h.tokSeq.Add(1))
	e := &timerEntry{
		tok:     tok,
		dom:     hd,
		dueTick: h.tick.Load() + delayTicks,
		period:  periodTicks,
		fn:      fn,
	}
	h.tmu.Lock()
	h.timers[tok] = e
	h.due[e.dueTick] = append(h.due[e.dueTick], e)
	h.tmu.Unlock()
	return tok, nil
}

func (h *Host) Cancel(tok Token) {
	if tok == 0 {
		return
	}
	h.tmu.Lock()
	if e, ok := h.timers[tok]; ok {
		e.cancelled = true
		delete(h.timers, tok)
	}
	h.tmu.Unlock()
}

func (h *Host) GlobalDomain() Domain { return h.global }
func (h *Host) AsyncDomain() Domain  { return h.async }

// RegionDomain returns the i-th region domain, or the global domain on a
// single-domain host.
func (h *Host) RegionDomain(i int) Domain {
	if len(h.regions) == 0 {
		return h.global
	}
	if i < 0 || i >= len(h.regions) {
		i = 0
	}
	return h.regions[i]
}

func (h *Host) IsCurrentDomain(ctx context.Context, d Domain) bool {
	cur, ok := FromContext(ctx)
	return ok && cur == d
}

func (h *Host) SupportsMultiDomain() bool { return len(h.regions) > 0 }

func (h *Host) CurrentTick() int64 { return h.tick.Load() }

func (h *Host) own(d Domain) (*hostDomain, error) {
	hd, ok := d.(*hostDomain)
	if !ok || hd == nil {
		return nil, fmt.Errorf("affinity: domain %v does not belong to this host", d)
	}
	return hd, nil
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Tick          int64
	PendingTimers int
	Domains       []DomainInfo
}

type DomainInfo struct {
	Name     string
	QueueLen int
}

func (h *Host) Snapshot() Snapshot {
	h.tmu.Lock()
	pending := len(h.timers)
	h.tmu.Unlock()

	snap := Snapshot{Tick: h.tick.Load(), PendingTimers: pending}
	all := append([]*hostDomain{h.global}, h.regions...)
	all = append(all, h.async)
	for _, d := range all {
		snap.Domains = append(snap.Domains, DomainInfo{Name: d.name, QueueLen: d.queueLen()})
	}
	return snap
}
