package sched

import (
	"context"
	"sync/atomic"

	"tickforge/internal/affinity"
)

// Scheduler is the convenience surface over the executor: one-line helpers
// for the common scheduling shapes, plus thread introspection. Everything
// here is sugar over NewTask/Chain; the executor remains the single point of
// truth for task state.
type Scheduler struct {
	ex *Executor
}

// NewScheduler wraps an executor.
func NewScheduler(ex *Executor) *Scheduler {
	return &Scheduler{ex: ex}
}

// Executor returns the underlying executor for advanced use.
func (s *Scheduler) Executor() *Executor { return s.ex }

// NewTask starts a full task builder.
func (s *Scheduler) NewTask() *Builder { return s.ex.NewTask() }

// Chain starts a multi-step chain builder.
func (s *Scheduler) Chain() *Chain { return s.ex.Chain() }

// ---- global domain ----

// RunSync runs fn on the global domain as soon as possible.
func (s *Scheduler) RunSync(fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().Sync().Run(fn)
}

// RunSyncLater runs fn on the global domain after a tick delay.
func (s *Scheduler) RunSyncLater(delayTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().Sync().Delay(delayTicks).Run(fn)
}

// RunSyncTimer runs fn repeatedly on the global domain.
func (s *Scheduler) RunSyncTimer(delayTicks, periodTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().Sync().Delay(delayTicks).Every(periodTicks).Run(fn)
}

// ---- background pool ----

// RunAsync runs fn on the background pool as soon as possible.
func (s *Scheduler) RunAsync(fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().Async().Run(fn)
}

// RunAsyncLater runs fn on the background pool after a tick delay.
func (s *Scheduler) RunAsyncLater(delayTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().Async().Delay(delayTicks).Run(fn)
}

// RunAsyncTimer runs fn repeatedly on the background pool.
func (s *Scheduler) RunAsyncTimer(delayTicks, periodTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().Async().Delay(delayTicks).Every(periodTicks).Run(fn)
}

// ---- entity affinity ----

// RunOnEntity runs fn on the domain owning ref.
func (s *Scheduler) RunOnEntity(ref affinity.EntityRef, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().ForEntity(ref).Run(fn)
}

// RunOnEntityLater runs fn on the domain owning ref after a tick delay.
func (s *Scheduler) RunOnEntityLater(ref affinity.EntityRef, delayTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().ForEntity(ref).Delay(delayTicks).Run(fn)
}

// RunOnEntityTimer runs fn repeatedly, re-resolving the entity's owner at
// every firing.
func (s *Scheduler) RunOnEntityTimer(ref affinity.EntityRef, delayTicks, periodTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().ForEntity(ref).Delay(delayTicks).Every(periodTicks).Run(fn)
}

// ---- location affinity ----

// RunAtLocation runs fn on the domain owning ref.
func (s *Scheduler) RunAtLocation(ref affinity.LocationRef, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().AtLocation(ref).Run(fn)
}

// RunAtLocationLater runs fn on the domain owning ref after a tick delay.
func (s *Scheduler) RunAtLocationLater(ref affinity.LocationRef, delayTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().AtLocation(ref).Delay(delayTicks).Run(fn)
}

// ---- global region ----

// RunGlobalRegion runs fn on the global region domain.
func (s *Scheduler) RunGlobalRegion(fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().GlobalRegion().Run(fn)
}

// RunGlobalRegionLater runs fn on the global region domain after a delay.
func (s *Scheduler) RunGlobalRegionLater(delayTicks int64, fn TaskFunc) (*Handle, error) {
	return s.ex.NewTask().GlobalRegion().Delay(delayTicks).Run(fn)
}

// ---- futures ----

// CallSync runs fn on the global domain and resolves the returned channel
// with its result. The channel receives exactly one Result, even when the
// task is cancelled before running.
func (s *Scheduler) CallSync(fn func(ctx context.Context) (any, error)) (<-chan Result, error) {
	return s.call(s.ex.NewTask().Sync(), fn)
}

// CallAsync is CallSync on the background pool.
func (s *Scheduler) CallAsync(fn func(ctx context.Context) (any, error)) (<-chan Result, error) {
	return s.call(s.ex.NewTask().Async(), fn)
}

func (s *Scheduler) call(b *Builder, fn func(ctx context.Context) (any, error)) (<-chan Result, error) {
	ch := make(chan Result, 1)
	var delivered atomic.Bool

	// The body delivers success and failure itself; the empty error handler
	// keeps a failed call from tripping the unhandled-error path.
	h, err := b.OnError(func(error) {}).Run(func(ctx context.Context) error {
		v, err := fn(ctx)
		if delivered.CompareAndSwap(false, true) {
			ch <- Result{Value: v, Err: err}
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-h.Done()
		if delivered.CompareAndSwap(false, true) {
			ch <- Result{Err: ErrStopped}
		}
	}()
	return ch, nil
}

// ---- introspection and control ----

// IsMainThread reports whether ctx belongs to the global domain. Only
// meaningful inside task bodies and provider callbacks.
func (s *Scheduler) IsMainThread(ctx context.Context) bool {
	return s.ex.provider.IsCurrentDomain(ctx, s.ex.provider.GlobalDomain())
}

// IsGlobalThread reports whether ctx belongs to the global region thread.
// Both host kinds run global-region work on the global domain, so this
// matches IsMainThread; it exists for callers porting code that
// distinguishes the two.
func (s *Scheduler) IsGlobalThread(ctx context.Context) bool {
	return s.ex.provider.IsCurrentDomain(ctx, s.ex.provider.GlobalDomain())
}

// IsMultiDomainHost reports whether the host runs more than one sync domain.
func (s *Scheduler) IsMultiDomainHost() bool {
	return s.ex.provider.SupportsMultiDomain()
}

// CurrentTick returns the host's tick counter.
func (s *Scheduler) CurrentTick() int64 { return s.ex.provider.CurrentTick() }

// PendingTaskCount reports tasks not yet terminal.
func (s *Scheduler) PendingTaskCount() int { return s.ex.PendingTaskCount() }

// CancelAllTasks cancels every live task and reports how many were
// cancelled by this call.
func (s *Scheduler) CancelAllTasks() int { return s.ex.CancelAll() }

// Shutdown drains the executor. See Executor.Shutdown.
func (s *Scheduler) Shutdown(ctx context.Context) error { return s.ex.Shutdown(ctx) }
