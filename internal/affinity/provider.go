// Package affinity defines the platform primitive boundary the task executor
// routes through: domains (independent concurrency contexts, each with one
// owning goroutine), scheduling primitives on those domains, and ownership
// resolution for entity- and location-bound work.
//
// Two in-process providers are included: SingleHost (one global loop plus an
// async pool, the single-threaded platform model) and RegionHost (N region
// loops, the region-threaded platform model).
package affinity

import "context"

// Domain is an independent concurrency context. At most one callback runs on
// a domain at a time; different domains proceed in parallel.
//
// The async domain is the exception: it is a worker pool, so callbacks
// submitted to it may run concurrently with each other.
type Domain interface {
	Name() string
}

// EntityRef identifies a schedulable entity. The provider is the sole
// authority on which domain currently owns it and whether it still exists.
type EntityRef interface {
	EntityID() uint64
}

// LocationRef identifies a spatial target. Locations always resolve to some
// domain; unlike entities they cannot vanish.
type LocationRef interface {
	LocationKey() uint64
}

// Token identifies a pending scheduled callback for cancellation.
// The zero Token is a no-op.
type Token uint64

// Provider is the platform primitive boundary.
//
// Callbacks receive a context carrying the executing domain (see WithDomain /
// FromContext); Go has no usable thread identity, so domain identity travels
// in the context instead.
//
// Implementations must be safe to call from any domain.
type Provider interface {
	// RunNow schedules fn on d as soon as the domain's loop is free.
	RunNow(d Domain, fn func(ctx context.Context)) (Token, error)

	// RunAfterDelay schedules fn on d after delayTicks ticks.
	// A delay <= 0 behaves like RunNow.
	RunAfterDelay(d Domain, delayTicks int64, fn func(ctx context.Context)) (Token, error)

	// RunRepeating schedules fn on d every periodTicks ticks after an initial
	// delay. The cadence is nominal: reschedules are computed from the
	// previous due tick, not from completion time.
	RunRepeating(d Domain, delayTicks, periodTicks int64, fn func(ctx context.Context)) (Token, error)

	// Cancel drops a pending scheduled callback. In-flight callbacks finish.
	Cancel(tok Token)

	// ResolveEntityDomain reports the domain currently owning ref and whether
	// the entity still exists. Resolution is point-in-time; ownership can
	// change between the call and dispatch, which is why the executor
	// re-resolves at every firing.
	ResolveEntityDomain(ref EntityRef) (Domain, bool)

	// ResolveLocationDomain reports the domain owning the given location.
	ResolveLocationDomain(ref LocationRef) Domain

	// GlobalDomain returns the global (main-thread) domain.
	GlobalDomain() Domain

	// AsyncDomain returns the background pool domain.
	AsyncDomain() Domain

	// IsCurrentDomain reports whether the calling code (identified by ctx)
	// is executing on d.
	IsCurrentDomain(ctx context.Context, d Domain) bool

	// SupportsMultiDomain reports whether this host partitions the world.
	// When false, entity/location/region work all collapses onto the global
	// domain.
	SupportsMultiDomain() bool

	// CurrentTick returns the host's current simulation tick.
	CurrentTick() int64
}

type domainCtxKey struct{}

// WithDomain marks ctx as executing on d. Hosts call this before invoking a
// scheduled callback.
func WithDomain(ctx context.Context, d Domain) context.Context {
	return context.WithValue(ctx, domainCtxKey{}, d)
}

// FromContext returns the domain ctx is executing on, if any.
func FromContext(ctx context.Context) (Domain, bool) {
	d, ok := ctx.Value(domainCtxKey{}).(Domain)
	return d, ok
}
