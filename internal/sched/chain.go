package sched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tickforge/internal/affinity"
	"tickforge/internal/eventbus"
	"tickforge/pkg/logx"
)

// StepFunc is one chain step. It receives the previous step's output (nil
// for the first step) and produces the input for the next one. Use
// Transform, Consume or Supply for typed steps.
type StepFunc func(ctx context.Context, in any) (any, error)

// Result carries the outcome of an asynchronously awaited computation.
type Result struct {
	Value any
	Err   error
}

type chainStep struct {
	mode       AffinityMode
	entity     affinity.EntityRef
	location   affinity.LocationRef
	delayTicks int64
	fn         StepFunc
}

// Chain composes steps that run sequentially, each on its own concurrency
// domain, with values flowing from step to step. A chain executes as one
// synthetic task: it has a handle, appears in diagnostics, and counts
// completed steps as executions.
//
// A step error aborts the chain; remaining steps never run.
type Chain struct {
	ex    *Executor
	name  string
	steps []chainStep

	pendingDelay int64

	onError    func(step int, err error)
	onComplete func(out any)

	buildErr error
}

// Chain starts a new empty chain on this executor.
func (e *Executor) Chain() *Chain {
	return &Chain{ex: e}
}

func (c *Chain) add(s chainStep) *Chain {
	if c.buildErr != nil {
		return c
	}
	if s.fn == nil {
		c.buildErr = &ConfigError{Field: "step", Reason: "step function is required"}
		return c
	}
	s.delayTicks = c.pendingDelay
	c.pendingDelay = 0
	c.steps = append(c.steps, s)
	return c
}

// Sync appends a step on the global domain.
func (c *Chain) Sync(fn StepFunc) *Chain {
	return c.add(chainStep{mode: GlobalSync, fn: fn})
}

// Async appends a step on the background pool.
func (c *Chain) Async(fn StepFunc) *Chain {
	return c.add(chainStep{mode: Async, fn: fn})
}

// GlobalRegion appends a step on the global region domain.
func (c *Chain) GlobalRegion(fn StepFunc) *Chain {
	return c.add(chainStep{mode: GlobalRegion, fn: fn})
}

// ForEntity appends a step that runs on the domain owning ref at the moment
// the step starts. If the entity is gone by then, the chain aborts with
// ErrTargetGone.
func (c *Chain) ForEntity(ref affinity.EntityRef, fn StepFunc) *Chain {
	if ref == nil {
		c.buildErr = &ConfigError{Field: "entity", Reason: "entity step requires a target"}
		return c
	}
	return c.add(chainStep{mode: Entity, entity: ref, fn: fn})
}

// AtLocation appends a step on the domain owning ref.
func (c *Chain) AtLocation(ref affinity.LocationRef, fn StepFunc) *Chain {
	if ref == nil {
		c.buildErr = &ConfigError{Field: "location", Reason: "location step requires a target"}
		return c
	}
	return c.add(chainStep{mode: Location, location: ref, fn: fn})
}

// Delay inserts a pure tick wait at this point in the chain: the next step
// starts that many ticks after the previous one finishes. A leading Delay
// postpones the first step, a trailing one postpones completion, and
// consecutive delays accumulate.
func (c *Chain) Delay(ticks int64) *Chain {
	if c.buildErr != nil {
		return c
	}
	if ticks < 0 {
		c.buildErr = &ConfigError{Field: "delay", Reason: "must be >= 0 ticks"}
		return c
	}
	c.pendingDelay += ticks
	return c
}

// Named gives the chain a name for logs and diagnostics.
func (c *Chain) Named(name string) *Chain {
	c.name = name
	return c
}

// OnError installs the abort handler. It fires exactly once, with the index
// of the failing step, no matter how many steps remain.
func (c *Chain) OnError(fn func(step int, err error)) *Chain {
	c.onError = fn
	return c
}

// OnComplete fires once with the final step's output when every step ran.
func (c *Chain) OnComplete(fn func(out any)) *Chain {
	c.onComplete = fn
	return c
}

// Execute submits the chain and returns its handle. The handle's execution
// count tracks completed steps.
func (c *Chain) Execute() (*Handle, error) {
	if c.buildErr != nil {
		return nil, c.buildErr
	}
	if len(c.steps) == 0 {
		return nil, &ConfigError{Field: "steps", Reason: "chain has no steps"}
	}
	if c.pendingDelay > 0 {
		// Trailing Delay: a wait step that passes the value through.
		c.add(chainStep{mode: GlobalSync, fn: func(_ context.Context, in any) (any, error) { return in, nil }})
	}

	e := c.ex
	t := &Task{
		id:    uuid.NewString(),
		name:  c.name,
		mode:  GlobalSync,
		state: StatePending,
		done:  make(chan struct{}),
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrStopped
	}
	if e.shuttingDown {
		e.mu.Unlock()
		return nil, ErrShutdown
	}
	e.tasks[t.id] = t
	e.submitted++
	e.mu.Unlock()

	t.mu.Lock()
	t.createdAt = e.clk.Now()
	t.state = StateScheduled
	t.mu.Unlock()

	if e.metrics != nil {
		e.metrics.pending.Inc()
	}
	e.publish(eventbus.TypeTaskScheduled, t, 0, nil)

	r := &chainRun{c: c, t: t, ex: e}
	r.arm(0, nil)
	return &Handle{t: t, ex: e}, nil
}

// ExecuteAsync submits the chain and returns a buffered channel that
// receives exactly one Result when the chain ends, however it ends.
func (c *Chain) ExecuteAsync() (<-chan Result, error) {
	ch := make(chan Result, 1)
	prevComplete := c.onComplete
	c.onComplete = func(out any) {
		if prevComplete != nil {
			prevComplete(out)
		}
		ch <- Result{Value: out}
	}
	prevError := c.onError
	c.onError = func(step int, err error) {
		if prevError != nil {
			prevError(step, err)
		}
		ch <- Result{Err: err}
	}

	h, err := c.Execute()
	if err != nil {
		return nil, err
	}
	// A cancelled or retired chain never reaches onComplete/onError; resolve
	// the channel from the terminal state instead.
	go func() {
		<-h.Done()
		switch h.State() {
		case StateCancelled:
			ch <- Result{Err: ErrStopped}
		}
	}()
	return ch, nil
}

// chainRun drives one execution of a chain through the affinity provider.
type chainRun struct {
	c  *Chain
	t  *Task
	ex *Executor

	finished atomic.Bool
}

// arm schedules step i. The alarm lands on the step's fixed domain when it
// has one; entity and location steps resolve at run time, so their alarms
// land on the global domain and hop.
func (r *chainRun) arm(i int, in any) {
	e := r.ex
	step := r.c.steps[i]

	dom := e.provider.GlobalDomain()
	if step.mode == Async {
		dom = e.provider.AsyncDomain()
	}
	tok, err := e.provider.RunAfterDelay(dom, step.delayTicks, func(ctx context.Context) {
		r.runStep(ctx, i, in)
	})
	if err != nil {
		r.abort(i, err)
		return
	}

	r.t.mu.Lock()
	switch {
	case r.t.state.Terminal():
		r.t.mu.Unlock()
		e.provider.Cancel(tok)
		return
	case r.t.alarm != 0:
		// A zero-delay step already ran and armed the next one; tok is spent.
		r.t.mu.Unlock()
		return
	}
	r.t.alarm = tok
	r.t.mu.Unlock()
}

func (r *chainRun) runStep(ctx context.Context, i int, in any) {
	e := r.ex
	t := r.t
	step := r.c.steps[i]

	t.mu.Lock()
	t.alarm = 0
	cancelReq := t.cancelReq
	terminal := t.state.Terminal()
	t.mu.Unlock()

	if terminal {
		return
	}
	if cancelReq {
		e.finalize(t, StateCancelled, nil)
		return
	}

	switch step.mode {
	case Entity:
		dom, exists := e.provider.ResolveEntityDomain(step.entity)
		if !exists {
			r.abort(i, ErrTargetGone)
			return
		}
		if !e.provider.IsCurrentDomain(ctx, dom) {
			if _, err := e.provider.RunNow(dom, func(c context.Context) { r.execStep(c, i, in) }); err != nil {
				r.abort(i, err)
			}
			return
		}
	case Location:
		dom := e.provider.ResolveLocationDomain(step.location)
		if !e.provider.IsCurrentDomain(ctx, dom) {
			if _, err := e.provider.RunNow(dom, func(c context.Context) { r.execStep(c, i, in) }); err != nil {
				r.abort(i, err)
			}
			return
		}
	}
	r.execStep(ctx, i, in)
}

func (r *chainRun) execStep(ctx context.Context, i int, in any) {
	e := r.ex
	t := r.t
	step := r.c.steps[i]

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if t.cancelReq {
		t.mu.Unlock()
		e.finalize(t, StateCancelled, nil)
		return
	}
	t.state = StateRunning
	t.mu.Unlock()

	e.inflight.Add(1)
	start := e.clk.Now()
	out, err := runChainStep(step.fn, ctx, in)
	dur := e.clk.Now().Sub(start)
	e.inflight.Done()

	t.mu.Lock()
	t.execs++
	t.lastFiredAt = start
	t.totalDur += dur
	if err != nil {
		t.lastErr = err
	}
	cancelReq := t.cancelReq
	t.mu.Unlock()

	atomic.AddUint64(&e.fired, 1)
	if e.metrics != nil {
		e.metrics.observeFiring(step.mode, dur, err)
	}
	e.publishChainStep(t, i, dur, err)

	if err != nil {
		r.abort(i, err)
		return
	}
	if cancelReq {
		e.finalize(t, StateCancelled, nil)
		return
	}

	next := i + 1
	if next >= len(r.c.steps) {
		r.complete(out)
		return
	}

	t.mu.Lock()
	t.state = StateScheduled
	t.mu.Unlock()
	r.arm(next, out)
}

func runChainStep(fn StepFunc, ctx context.Context, in any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, in)
}

func (r *chainRun) complete(out any) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}
	if r.c.onComplete != nil {
		invokeSafely(r.ex.log, "chain completion callback", r.t, func() { r.c.onComplete(out) })
	}
	r.ex.finalize(r.t, StateCompleted, nil)
}

// abort ends the chain on the failing step. The error handler fires at most
// once per chain execution.
func (r *chainRun) abort(i int, err error) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}
	wrapped := &ExecutionError{TaskID: r.t.id, TaskName: r.t.name, Err: err}
	failErr := error(wrapped)
	if r.c.onError != nil {
		invokeSafely(r.ex.log, "chain error handler", r.t, func() { r.c.onError(i, wrapped) })
		failErr = nil
	} else {
		r.ex.log.Warn("chain aborted",
			logx.String("id", r.t.id),
			logx.String("chain", r.t.name),
			logx.Int("step", i),
			logx.Err(err),
		)
	}
	r.ex.finalize(r.t, StateFailed, failErr)
}

func (e *Executor) publishChainStep(t *Task, step int, dur time.Duration, err error) {
	if e.bus == nil {
		return
	}
	t.mu.Lock()
	ev := TaskEvent{
		ID:       t.id,
		Name:     t.name,
		Mode:     "chain",
		State:    t.state.String(),
		Execs:    t.execs,
		Step:     step,
		Duration: dur,
	}
	t.mu.Unlock()
	if err != nil {
		ev.Error = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeChainStep, Time: e.clk.Now(), Data: ev})
}

// Transform adapts a typed step to the chain's untyped plumbing. A nil or
// mismatched input yields the zero In.
func Transform[In, Out any](fn func(ctx context.Context, in In) (Out, error)) StepFunc {
	return func(ctx context.Context, in any) (any, error) {
		v, _ := in.(In)
		return fn(ctx, v)
	}
}

// Consume adapts a typed terminal step that produces no output.
func Consume[In any](fn func(ctx context.Context, in In) error) StepFunc {
	return func(ctx context.Context, in any) (any, error) {
		v, _ := in.(In)
		return nil, fn(ctx, v)
	}
}

// Supply adapts a typed source step that takes no input.
func Supply[Out any](fn func(ctx context.Context) (Out, error)) StepFunc {
	return func(ctx context.Context, _ any) (any, error) {
		return fn(ctx)
	}
}
