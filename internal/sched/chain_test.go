package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestChainPassesValues(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExecutor(t, true)

	var final atomic.Value
	h, err := ex.Chain().
		Async(Supply(func(context.Context) (int, error) { return 20, nil })).
		Sync(Transform(func(_ context.Context, n int) (int, error) { return n + 1, nil })).
		Sync(Consume(func(_ context.Context, n int) error {
			final.Store(n)
			return nil
		})).
		Named("sum").
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if h.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", h.State())
	}
	if got, _ := final.Load().(int); got != 21 {
		t.Fatalf("final value = %v, want 21", final.Load())
	}
	if info := h.Info(); info.Executions != 3 {
		t.Fatalf("executions = %d, want one per step", info.Executions)
	}
}

func TestChainStepsRunOnTheirDomains(t *testing.T) {
	t.Parallel()
	ex, p := newTestExecutor(t, true)

	e := p.spawnEntity(p.reg1)
	var domains []string
	record := func(ctx context.Context, in any) (any, error) {
		if d, ok := fromCtx(ctx); ok {
			domains = append(domains, d)
		}
		return in, nil
	}

	h, err := ex.Chain().
		Sync(record).
		Async(record).
		ForEntity(e, record).
		AtLocation(testLocation(2), record).
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if h.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", h.State())
	}

	want := []string{"global", "async", "region.1", "region.0"}
	if len(domains) != len(want) {
		t.Fatalf("domains = %v, want %v", domains, want)
	}
	for i := range want {
		if domains[i] != want[i] {
			t.Fatalf("step %d ran on %q, want %q", i, domains[i], want[i])
		}
	}
}

func TestChainDelayBetweenSteps(t *testing.T) {
	t.Parallel()
	ex, p := newTestExecutor(t, false)

	var ticks []int64
	record := func(context.Context, any) (any, error) {
		ticks = append(ticks, p.CurrentTick())
		return nil, nil
	}

	h, err := ex.Chain().
		Sync(record).
		Delay(10).
		Sync(record).
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if h.State() != StateScheduled {
		t.Fatalf("state = %v, want scheduled between steps", h.State())
	}

	p.advance(10)
	if h.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", h.State())
	}
	if len(ticks) != 2 || ticks[0] != 0 || ticks[1] != 10 {
		t.Fatalf("ticks = %v, want [0 10]", ticks)
	}
}

func TestChainLeadingAndTrailingDelay(t *testing.T) {
	t.Parallel()
	ex, p := newTestExecutor(t, false)

	var ticks []int64
	record := func(_ context.Context, in any) (any, error) {
		ticks = append(ticks, p.CurrentTick())
		return in, nil
	}

	h, err := ex.Chain().
		Delay(5).
		Sync(record).
		Delay(3).
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	p.advance(5)
	if len(ticks) != 1 || ticks[0] != 5 {
		t.Fatalf("ticks = %v, want the step postponed to [5]", ticks)
	}
	if h.State() != StateScheduled {
		t.Fatalf("state = %v, want scheduled during the trailing wait", h.State())
	}
	p.advance(3)
	if h.State() != StateCompleted {
		t.Fatalf("state = %v, want completed after the trailing wait", h.State())
	}
}

func TestChainAbortsOnError(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExecutor(t, false)

	boom := errors.New("boom")
	var ranThird atomic.Bool
	var failedStep atomic.Int32
	var handlerRuns atomic.Int32

	h, err := ex.Chain().
		Sync(func(_ context.Context, in any) (any, error) { return in, nil }).
		Sync(func(context.Context, any) (any, error) { return nil, boom }).
		Sync(func(context.Context, any) (any, error) {
			ranThird.Store(true)
			return nil, nil
		}).
		OnError(func(step int, err error) {
			failedStep.Store(int32(step))
			handlerRuns.Add(1)
			if !errors.Is(err, boom) {
				t.Errorf("handler error = %v, want wrapped boom", err)
			}
		}).
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if h.State() != StateFailed {
		t.Fatalf("state = %v, want failed", h.State())
	}
	if ranThird.Load() {
		t.Fatal("steps after the failure must not run")
	}
	if handlerRuns.Load() != 1 {
		t.Fatalf("error handler ran %d times, want exactly once", handlerRuns.Load())
	}
	if failedStep.Load() != 1 {
		t.Fatalf("failing step = %d, want 1", failedStep.Load())
	}
	if h.Err() != nil {
		t.Fatal("handled chain failure should not surface through Err()")
	}
}

func TestChainEntityGoneAborts(t *testing.T) {
	t.Parallel()
	ex, p := newTestExecutor(t, true)

	e := p.spawnEntity(p.reg0)
	p.removeEntity(e)

	var gotErr error
	h, err := ex.Chain().
		ForEntity(e, func(_ context.Context, in any) (any, error) { return in, nil }).
		OnError(func(_ int, err error) { gotErr = err }).
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if h.State() != StateFailed {
		t.Fatalf("state = %v, want failed", h.State())
	}
	if !errors.Is(gotErr, ErrTargetGone) {
		t.Fatalf("handler error = %v, want ErrTargetGone", gotErr)
	}
}

func TestChainExecuteAsync(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExecutor(t, false)

	ch, err := ex.Chain().
		Sync(Supply(func(context.Context) (string, error) { return "done", nil })).
		ExecuteAsync()
	if err != nil {
		t.Fatalf("ExecuteAsync error: %v", err)
	}
	res := <-ch
	if res.Err != nil || res.Value != "done" {
		t.Fatalf("result = %+v, want value done", res)
	}
}

func TestChainRejectsEmptyAndInvalid(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExecutor(t, false)
	nopStep := func(_ context.Context, in any) (any, error) { return in, nil }

	if _, err := ex.Chain().Execute(); !IsConfigError(err) {
		t.Fatalf("empty chain error = %v, want ConfigError", err)
	}
	if _, err := ex.Chain().Sync(nil).Execute(); !IsConfigError(err) {
		t.Fatalf("nil step error = %v, want ConfigError", err)
	}
	if _, err := ex.Chain().Delay(5).Execute(); !IsConfigError(err) {
		t.Fatalf("delay-only chain error = %v, want ConfigError", err)
	}
	if _, err := ex.Chain().Sync(nopStep).Delay(-1).Execute(); !IsConfigError(err) {
		t.Fatalf("negative delay error = %v, want ConfigError", err)
	}
}

func TestChainCancelBetweenSteps(t *testing.T) {
	t.Parallel()
	ex, p := newTestExecutor(t, false)

	var ranSecond atomic.Bool
	h, err := ex.Chain().
		Sync(func(_ context.Context, in any) (any, error) { return in, nil }).
		Delay(10).
		Sync(func(context.Context, any) (any, error) {
			ranSecond.Store(true)
			return nil, nil
		}).
		Execute()
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if !h.Cancel() {
		t.Fatal("Cancel should report true between steps")
	}
	if n := p.pendingTimers(); n != 0 {
		t.Fatalf("cancelled chain left %d live host timers", n)
	}
	p.advance(20)
	if h.State() != StateCancelled {
		t.Fatalf("state = %v, want cancelled", h.State())
	}
	if ranSecond.Load() {
		t.Fatal("cancelled chain must not run further steps")
	}
}
