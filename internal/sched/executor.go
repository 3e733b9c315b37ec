package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickforge/internal/affinity"
	"tickforge/internal/clock"
	"tickforge/internal/eventbus"
	"tickforge/pkg/logx"
)

// Config controls the task executor.
type Config struct {
	// DefaultTimeout is applied to firings of tasks that don't set their own.
	// 0 disables the default deadline.
	DefaultTimeout time.Duration

	// WarnRatePerSec throttles "task failed with no handler" warnings so a
	// hot failing task cannot flood the log. 0 applies a default.
	WarnRatePerSec int
}

func (c Config) withDefaults() Config {
	if c.WarnRatePerSec <= 0 {
		c.WarnRatePerSec = 5
	}
	return c
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Mode     string        `json:"mode"`
	State    string        `json:"state"`
	Execs    int64         `json:"execs"`
	Step     int           `json:"step,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Executor routes task firings onto the correct concurrency domain through
// the affinity provider, owns all task state transitions, applies the error
// and retirement policies, and records metrics.
//
// Routing for entity/location tasks happens fresh at every firing, because
// ownership of the target can change between scheduling and firing.
type Executor struct {
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	provider affinity.Provider
	clk      clock.Clock

	metrics       *Metrics
	globalHandler func(t *Task, err error)
	warnLimit     *rate.Limiter

	mu           sync.Mutex
	tasks        map[string]*Task
	shuttingDown bool
	stopped      bool

	inflight sync.WaitGroup

	submitted uint64
	fired     uint64
	completed uint64
	failed    uint64
	cancelled uint64
	retired   uint64
}

// NewExecutor creates an executor bound to a provider. log and bus may be
// zero/nil.
func NewExecutor(cfg Config, provider affinity.Provider, log logx.Logger, bus eventbus.Bus) *Executor {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		provider:  provider,
		clk:       clock.Real(),
		warnLimit: rate.NewLimiter(rate.Limit(cfg.WarnRatePerSec), cfg.WarnRatePerSec),
		tasks:     map[string]*Task{},
	}
}

// SetClock overrides the executor clock (tests).
func (e *Executor) SetClock(c clock.Clock) {
	if c != nil {
		e.clk = c
	}
}

// SetMetrics installs prometheus metrics. Safe to leave unset.
func (e *Executor) SetMetrics(m *Metrics) { e.metrics = m }

// SetGlobalErrorHandler installs the fallback handler for body errors on
// tasks without their own OnError. A handler that panics is logged and
// swallowed; task bodies must never crash a domain thread.
func (e *Executor) SetGlobalErrorHandler(fn func(t *Task, err error)) { e.globalHandler = fn }

// Provider exposes the affinity provider this executor routes through.
func (e *Executor) Provider() affinity.Provider { return e.provider }

// Submit registers a built task and schedules its first firing.
func (e *Executor) Submit(t *Task) (*Handle, error) {
	if t == nil || (t.body == nil && t.ctxBody == nil) {
		return nil, &ConfigError{Field: "body", Reason: "task body is required"}
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

	now := e.provider.CurrentTick()
	t.mu.Lock()
	t.createdAt = e.clk.Now()
	t.state = StateScheduled
	t.nextTick = now + t.delayTicks
	t.mu.Unlock()

	if e.metrics != nil {
		e.metrics.pending.Inc()
	}
	e.publish(eventbus.TypeTaskScheduled, t, 0, nil)
	e.scheduleAlarm(t, t.delayTicks)
	return &Handle{t: t, ex: e}, nil
}

// scheduleAlarm arms the next firing. For fixed affinities the alarm lands
// directly on the target domain; entity/location alarms land on the global
// domain and hop after resolution.
func (e *Executor) scheduleAlarm(t *Task, delayTicks int64) {
	dom := e.provider.GlobalDomain()
	if t.mode == Async {
		dom = e.provider.AsyncDomain()
	}
	tok, err := e.provider.RunAfterDelay(dom, delayTicks, func(ctx context.Context) {
		e.fire(ctx, t)
	})
	if err != nil {
		e.log.Error("failed to arm task", logx.String("id", t.id), logx.Err(err))
		e.finalize(t, StateFailed, &ExecutionError{TaskID: t.id, TaskName: t.name, Err: err})
		return
	}

	t.mu.Lock()
	switch {
	case t.state.Terminal():
		// Cancel raced the arm; drop the fresh alarm.
		t.mu.Unlock()
		e.provider.Cancel(tok)
		return
	case t.alarm != 0:
		// A zero-delay firing already ran and armed the next alarm before
		// this store; tok is spent.
		t.mu.Unlock()
		return
	}
	t.alarm = tok
	t.mu.Unlock()
}

// fire runs one scheduling alarm: route, then execute on the routed domain.
func (e *Executor) fire(ctx context.Context, t *Task) {
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

	switch t.mode {
	case Entity:
		dom, exists := e.provider.ResolveEntityDomain(t.entity)
		if !exists {
			e.retire(t)
			return
		}
		e.hop(ctx, dom, t)
	case Location:
		e.hop(ctx, e.provider.ResolveLocationDomain(t.location), t)
	default:
		// Alarm was armed on the target domain already.
		e.runBody(ctx, t)
	}
}

func (e *Executor) hop(ctx context.Context, dom affinity.Domain, t *Task) {
	if e.provider.IsCurrentDomain(ctx, dom) {
		e.runBody(ctx, t)
		return
	}
	if _, err := e.provider.RunNow(dom, func(c context.Context) { e.runBody(c, t) }); err != nil {
		e.log.Error("failed to dispatch task", logx.String("id", t.id), logx.Err(err))
		e.finalize(t, StateFailed, &ExecutionError{TaskID: t.id, TaskName: t.name, Err: err})
	}
}

// runBody executes one firing on the current (already correct) domain and
// applies the post-firing policy.
func (e *Executor) runBody(ctx context.Context, t *Task) {
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
	ec := &Execution{count: t.execs + 1}
	timeout := t.timeout
	t.mu.Unlock()

	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	e.inflight.Add(1)
	defer e.inflight.Done()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	start := e.clk.Now()
	err := runTaskBody(t, runCtx, ec)
	dur := e.clk.Now().Sub(start)
	if cancel != nil {
		cancel()
	}

	t.mu.Lock()
	t.execs++
	execs := t.execs
	t.lastFiredAt = start
	t.totalDur += dur
	if err != nil {
		t.lastErr = err
	}
	selfCancelled := t.cancelReq || ec.Cancelled()
	t.mu.Unlock()

	atomic.AddUint64(&e.fired, 1)
	if e.metrics != nil {
		e.metrics.observeFiring(t.mode, dur, err)
	}
	e.publish(eventbus.TypeTaskFired, t, dur, err)

	consumed := false
	if err != nil {
		consumed = e.dispatchError(t, err)
	}

	switch {
	case selfCancelled:
		e.finalize(t, StateCancelled, nil)
	case err != nil && t.cancelOnFailure:
		var failErr error
		if !consumed {
			failErr = &ExecutionError{TaskID: t.id, TaskName: t.name, Err: err}
		}
		e.finalize(t, StateFailed, failErr)
	case err != nil && t.periodTicks == 0 && !consumed:
		e.finalize(t, StateFailed, &ExecutionError{TaskID: t.id, TaskName: t.name, Err: err})
	case t.limit > 0 && execs >= t.limit:
		e.finalize(t, StateCompleted, nil)
	case t.periodTicks == 0:
		e.finalize(t, StateCompleted, nil)
	default:
		e.reschedule(t)
	}
}

func runTaskBody(t *Task, ctx context.Context, ec *Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if t.ctxBody != nil {
		return t.ctxBody(ctx, ec)
	}
	return t.body(ctx)
}

// reschedule arms the next firing at the next nominal slot. The cadence is
// anchored to nominal fire times, not completion times; when a firing
// overruns its period, missed slots are skipped rather than caught up.
func (e *Executor) reschedule(t *Task) {
	now := e.provider.CurrentTick()

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	next := t.nextTick + t.periodTicks
	for next <= now {
		next += t.periodTicks
	}
	t.nextTick = next
	t.state = StateScheduled
	t.mu.Unlock()

	e.scheduleAlarm(t, next-now)
}

// retire handles an entity-affine task whose target vanished: the body never
// runs, the retired callback fires exactly once, and retirement is terminal
// even for repeating tasks.
func (e *Executor) retire(t *Task) {
	if t.onRetired != nil {
		invokeSafely(e.log, "retired callback", t, t.onRetired)
	}
	e.finalize(t, StateRetired, nil)
}

// dispatchError runs the error policy and reports whether any handler
// consumed the error.
func (e *Executor) dispatchError(t *Task, err error) bool {
	wrapped := &ExecutionError{TaskID: t.id, TaskName: t.name, Err: err}
	if t.onError != nil {
		invokeSafely(e.log, "error handler", t, func() { t.onError(wrapped) })
		return true
	}
	if e.globalHandler != nil {
		fn := e.globalHandler
		invokeSafely(e.log, "global error handler", t, func() { fn(t, wrapped) })
		return true
	}
	if e.warnLimit.Allow() {
		e.log.Warn("task failed with no handler",
			logx.String("id", t.id),
			logx.String("task", t.name),
			logx.String("mode", t.mode.String()),
			logx.Err(err),
		)
	}
	return false
}

func invokeSafely(log logx.Logger, what string, t *Task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(what+" panicked", logx.String("id", t.id), logx.String("task", t.name), logx.Any("panic", r))
		}
	}()
	fn()
}

// finalize moves a task into a terminal state exactly once.
func (e *Executor) finalize(t *Task, state TaskState, failErr error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.failErr = failErr
	alarm := t.alarm
	t.alarm = 0
	t.mu.Unlock()

	if alarm != 0 {
		e.provider.Cancel(alarm)
	}

	e.mu.Lock()
	delete(e.tasks, t.id)
	e.mu.Unlock()

	var evType string
	switch state {
	case StateCompleted:
		atomic.AddUint64(&e.completed, 1)
		evType = eventbus.TypeTaskCompleted
		if t.onComplete != nil {
			invokeSafely(e.log, "completion callback", t, t.onComplete)
		}
	case StateFailed:
		atomic.AddUint64(&e.failed, 1)
		evType = eventbus.TypeTaskFailed
	case StateCancelled:
		atomic.AddUint64(&e.cancelled, 1)
		evType = eventbus.TypeTaskCancelled
	case StateRetired:
		atomic.AddUint64(&e.retired, 1)
		evType = eventbus.TypeTaskRetired
	}

	if e.metrics != nil {
		e.metrics.pending.Dec()
		e.metrics.observeTerminal(state)
	}
	if evType != "" {
		e.publish(evType, t, 0, failErr)
	}
	t.markDone()
}

// cancelTask is the single cancellation entry point (handles call it).
// Returns whether this call caused the cancellation.
func (e *Executor) cancelTask(t *Task) bool {
	t.mu.Lock()
	if t.state.Terminal() || t.cancelReq {
		t.mu.Unlock()
		return false
	}
	if t.state == StateRunning {
		// Cooperative: the in-flight firing finishes, the next never starts.
		t.cancelReq = true
		t.mu.Unlock()
		return true
	}
	t.cancelReq = true
	t.mu.Unlock()

	e.finalize(t, StateCancelled, nil)
	return true
}

// CancelAll cancels every non-terminal task and reports how many this call
// cancelled.
func (e *Executor) CancelAll() int {
	e.mu.Lock()
	list := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		list = append(list, t)
	}
	e.mu.Unlock()

	n := 0
	for _, t := range list {
		if e.cancelTask(t) {
			n++
		}
	}
	return n
}

// PendingTaskCount reports how many submitted tasks have not reached a
// terminal state.
func (e *Executor) PendingTaskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// Shutdown stops accepting work, cancels all tasks, and waits (bounded by
// ctx) for in-flight firings to finish.
func (e *Executor) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	e.mu.Unlock()

	e.CancelAll()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.log.Warn("executor shutdown timed out", logx.Err(err))
	}

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	if err == nil {
		e.log.Info("executor stopped",
			logx.Uint64("fired", atomic.LoadUint64(&e.fired)),
			logx.Uint64("completed", atomic.LoadUint64(&e.completed)),
		)
	}
	return err
}

// ShutdownNow cancels everything immediately without waiting for in-flight
// firings. In-flight bodies are not interrupted, only abandoned.
func (e *Executor) ShutdownNow() {
	e.mu.Lock()
	e.shuttingDown = true
	e.stopped = true
	e.mu.Unlock()
	e.CancelAll()
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Pending   int
	Submitted uint64
	Fired     uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64
	Retired   uint64
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	pending := len(e.tasks)
	submitted := e.submitted
	e.mu.Unlock()
	return Snapshot{
		Pending:   pending,
		Submitted: submitted,
		Fired:     atomic.LoadUint64(&e.fired),
		Completed: atomic.LoadUint64(&e.completed),
		Failed:    atomic.LoadUint64(&e.failed),
		Cancelled: atomic.LoadUint64(&e.cancelled),
		Retired:   atomic.LoadUint64(&e.retired),
	}
}

func (e *Executor) publish(evType string, t *Task, dur time.Duration, err error) {
	if e.bus == nil {
		return
	}
	t.mu.Lock()
	ev := TaskEvent{
		ID:       t.id,
		Name:     t.name,
		Mode:     t.mode.String(),
		State:    t.state.String(),
		Execs:    t.execs,
		Duration: dur,
	}
	t.mu.Unlock()
	if err != nil {
		ev.Error = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: evType, Time: e.clk.Now(), Data: ev})
}
