package affinity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tickforge/pkg/logx"
)

func startHost(t *testing.T, regions int) *Host {
	t.Helper()
	cfg := Config{
		Regions:      regions,
		AsyncWorkers: 2,
		TickInterval: time.Millisecond,
	}
	var h *Host
	if regions > 0 {
		h = NewRegionHost(cfg, logx.Nop())
	} else {
		h = NewSingleHost(cfg, logx.Nop())
	}
	h.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Stop(ctx)
	})
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunNowExecutesOnDomain(t *testing.T) {
	t.Parallel()
	h := startHost(t, 0)

	var dom atomic.Value
	done := make(chan struct{})
	if _, err := h.RunNow(h.GlobalDomain(), func(ctx context.Context) {
		if d, ok := FromContext(ctx); ok {
			dom.Store(d.Name())
		}
		close(done)
	}); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
	if got, _ := dom.Load().(string); got != "global" {
		t.Fatalf("ran on %q, want global", got)
	}
}

func TestRunAfterDelayFiresOnce(t *testing.T) {
	t.Parallel()
	h := startHost(t, 0)

	var runs atomic.Int32
	start := h.CurrentTick()
	if _, err := h.RunAfterDelay(h.GlobalDomain(), 5, func(context.Context) {
		runs.Add(1)
	}); err != nil {
		t.Fatalf("RunAfterDelay error: %v", err)
	}

	waitFor(t, func() bool { return runs.Load() == 1 }, "delayed callback never fired")
	if got := h.CurrentTick(); got < start+5 {
		t.Fatalf("fired at tick %d, before due tick %d", got, start+5)
	}

	// Give it room to prove it doesn't fire again.
	waitFor(t, func() bool { return h.CurrentTick() > start+20 }, "tick loop stalled")
	if runs.Load() != 1 {
		t.Fatalf("one-shot fired %d times", runs.Load())
	}
}

func TestRunRepeatingAndCancel(t *testing.T) {
	t.Parallel()
	h := startHost(t, 0)

	var runs atomic.Int32
	tok, err := h.RunRepeating(h.GlobalDomain(), 1, 2, func(context.Context) {
		runs.Add(1)
	})
	if err != nil {
		t.Fatalf("RunRepeating error: %v", err)
	}

	waitFor(t, func() bool { return runs.Load() >= 3 }, "repeating callback too slow")
	h.Cancel(tok)

	after := runs.Load()
	tick := h.CurrentTick()
	waitFor(t, func() bool { return h.CurrentTick() > tick+10 }, "tick loop stalled")
	// One in-flight firing may still land right at cancel time.
	if runs.Load() > after+1 {
		t.Fatalf("runs kept growing after cancel: %d -> %d", after, runs.Load())
	}
}

func TestRunRepeatingRejectsZeroPeriod(t *testing.T) {
	t.Parallel()
	h := startHost(t, 0)
	if _, err := h.RunRepeating(h.GlobalDomain(), 0, 0, func(context.Context) {}); err == nil {
		t.Fatal("expected error for period < 1")
	}
}

func TestRegionDomainsRunConcurrentCallbacks(t *testing.T) {
	t.Parallel()
	h := startHost(t, 2)

	if !h.SupportsMultiDomain() {
		t.Fatal("region host must report multi-domain support")
	}

	// Block region 0; region 1 must still make progress.
	release := make(chan struct{})
	blocked := make(chan struct{})
	_, _ = h.RunNow(h.RegionDomain(0), func(context.Context) {
		close(blocked)
		<-release
	})
	<-blocked

	var ran atomic.Bool
	_, _ = h.RunNow(h.RegionDomain(1), func(context.Context) { ran.Store(true) })
	waitFor(t, func() bool { return ran.Load() }, "region 1 starved by region 0")
	close(release)
}

func TestEntityOwnershipLifecycle(t *testing.T) {
	t.Parallel()
	h := startHost(t, 2)

	e := h.SpawnEntity(0)
	dom, ok := h.ResolveEntityDomain(e)
	if !ok || dom != h.RegionDomain(0) {
		t.Fatalf("fresh entity resolved to %v (ok=%v), want region 0", dom, ok)
	}

	if !h.MoveEntity(e, 1) {
		t.Fatal("MoveEntity failed for live entity")
	}
	dom, ok = h.ResolveEntityDomain(e)
	if !ok || dom != h.RegionDomain(1) {
		t.Fatalf("moved entity resolved to %v (ok=%v), want region 1", dom, ok)
	}

	h.RemoveEntity(e)
	if _, ok := h.ResolveEntityDomain(e); ok {
		t.Fatal("removed entity still resolves")
	}
	if h.MoveEntity(e, 0) {
		t.Fatal("MoveEntity should fail for a removed entity")
	}
}

func TestSingleHostCollapsesResolution(t *testing.T) {
	t.Parallel()
	h := startHost(t, 0)

	if h.SupportsMultiDomain() {
		t.Fatal("single host must not report multi-domain support")
	}

	e := h.SpawnEntity(3) // region index ignored
	dom, ok := h.ResolveEntityDomain(e)
	if !ok || dom != h.GlobalDomain() {
		t.Fatalf("entity resolved to %v, want global", dom)
	}
	if d := h.ResolveLocationDomain(Location{X: 10, Z: -4}); d != h.GlobalDomain() {
		t.Fatalf("location resolved to %v, want global", d)
	}
	if d := h.RegionDomain(0); d != h.GlobalDomain() {
		t.Fatalf("region domain = %v, want global", d)
	}
}

func TestLocationResolutionIsStable(t *testing.T) {
	t.Parallel()
	h := startHost(t, 3)

	loc := Location{X: 100, Z: 200}
	first := h.ResolveLocationDomain(loc)
	for i := 0; i < 10; i++ {
		if got := h.ResolveLocationDomain(loc); got != first {
			t.Fatal("location resolution must be deterministic")
		}
	}
}

func TestCallbackPanicDoesNotKillDomain(t *testing.T) {
	t.Parallel()
	h := startHost(t, 0)

	_, _ = h.RunNow(h.GlobalDomain(), func(context.Context) { panic("boom") })

	var ran atomic.Bool
	_, _ = h.RunNow(h.GlobalDomain(), func(context.Context) { ran.Store(true) })
	waitFor(t, func() bool { return ran.Load() }, "domain died after a panicking callback")
}
