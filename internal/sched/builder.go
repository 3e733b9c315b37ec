package sched

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"tickforge/internal/affinity"
)

// Builder accumulates a task configuration fluently and validates it once,
// at the build/submit boundary. All validation failures are ConfigErrors;
// nothing is scheduled until the configuration is valid.
type Builder struct {
	ex *Executor

	mode     AffinityMode
	entity   affinity.EntityRef
	location affinity.LocationRef

	delayTicks  int64
	periodTicks int64
	limit       int64
	limitSet    bool

	name    string
	timeout time.Duration

	onError         func(err error)
	onComplete      func()
	onRetired       func()
	cancelOnFailure bool
}

// NewTask starts building a task for this executor. The default affinity is
// GlobalSync with no delay and no repeat.
func (e *Executor) NewTask() *Builder {
	return &Builder{ex: e}
}

// Sync routes firings to the global domain.
func (b *Builder) Sync() *Builder {
	b.mode = GlobalSync
	return b
}

// Async routes firings to the background pool.
func (b *Builder) Async() *Builder {
	b.mode = Async
	return b
}

// GlobalRegion routes firings to the global region domain.
func (b *Builder) GlobalRegion() *Builder {
	b.mode = GlobalRegion
	return b
}

// ForEntity binds the task to an entity; each firing runs on the domain that
// owns the entity at that moment.
func (b *Builder) ForEntity(ref affinity.EntityRef) *Builder {
	b.mode = Entity
	b.entity = ref
	return b
}

// AtLocation binds the task to a location; each firing runs on the domain
// that owns the location at that moment.
func (b *Builder) AtLocation(ref affinity.LocationRef) *Builder {
	b.mode = Location
	b.location = ref
	return b
}

// Delay sets the tick delay before the first firing.
func (b *Builder) Delay(ticks int64) *Builder {
	b.delayTicks = ticks
	return b
}

// Every makes the task repeat with the given tick period. 0 means one-shot.
func (b *Builder) Every(ticks int64) *Builder {
	b.periodTicks = ticks
	return b
}

// Limit caps the total number of executions. The task completes exactly upon
// reaching the cap.
func (b *Builder) Limit(n int64) *Builder {
	b.limit = n
	b.limitSet = true
	return b
}

// Named gives the task a human-readable name for logs and diagnostics.
func (b *Builder) Named(name string) *Builder {
	b.name = strings.TrimSpace(name)
	return b
}

// Timeout sets a per-firing deadline on the body context. Interruption is
// best-effort: bodies that ignore the context still run to completion.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

// OnError installs a per-task exception handler. A handled error does not by
// itself cancel a repeating task.
func (b *Builder) OnError(fn func(err error)) *Builder {
	b.onError = fn
	return b
}

// OnComplete is invoked once when the task ends COMPLETED.
func (b *Builder) OnComplete(fn func()) *Builder {
	b.onComplete = fn
	return b
}

// OnRetired is invoked once if an entity-affine task's target no longer
// exists at firing time.
func (b *Builder) OnRetired(fn func()) *Builder {
	b.onRetired = fn
	return b
}

// CancelOnFailure makes a body error terminate the task as FAILED instead of
// continuing to the next scheduled firing.
func (b *Builder) CancelOnFailure() *Builder {
	b.cancelOnFailure = true
	return b
}

// Run builds the task with a plain body and submits it.
func (b *Builder) Run(fn TaskFunc) (*Handle, error) {
	t, err := b.build(fn, nil)
	if err != nil {
		return nil, err
	}
	return b.ex.Submit(t)
}

// RunWithContext builds the task with a context-aware body and submits it.
func (b *Builder) RunWithContext(fn CtxTaskFunc) (*Handle, error) {
	t, err := b.build(nil, fn)
	if err != nil {
		return nil, err
	}
	return b.ex.Submit(t)
}

// Build builds the task without submitting it.
func (b *Builder) Build(fn TaskFunc) (*Task, error) {
	return b.build(fn, nil)
}

// BuildWithContext builds a context-aware task without submitting it.
func (b *Builder) BuildWithContext(fn CtxTaskFunc) (*Task, error) {
	return b.build(nil, fn)
}

func (b *Builder) build(body TaskFunc, ctxBody CtxTaskFunc) (*Task, error) {
	if body == nil && ctxBody == nil {
		return nil, &ConfigError{Field: "body", Reason: "task body is required"}
	}
	if body != nil && ctxBody != nil {
		return nil, &ConfigError{Field: "body", Reason: "exactly one body may be set"}
	}
	if b.delayTicks < 0 {
		return nil, &ConfigError{Field: "delay", Reason: "must be >= 0 ticks"}
	}
	if b.periodTicks < 0 {
		return nil, &ConfigError{Field: "period", Reason: "must be >= 0 ticks"}
	}
	if b.limitSet && b.limit < 1 {
		return nil, &ConfigError{Field: "limit", Reason: "must be >= 1 when set"}
	}
	if b.periodTicks == 0 && b.limitSet && b.limit > 1 {
		return nil, &ConfigError{Field: "limit", Reason: "one-shot task cannot have a limit > 1"}
	}

	switch b.mode {
	case Entity:
		if b.entity == nil {
			return nil, &ConfigError{Field: "entity", Reason: "entity affinity requires a target"}
		}
		if b.location != nil {
			return nil, &ConfigError{Field: "location", Reason: "only one affinity target may be set"}
		}
	case Location:
		if b.location == nil {
			return nil, &ConfigError{Field: "location", Reason: "location affinity requires a target"}
		}
		if b.entity != nil {
			return nil, &ConfigError{Field: "entity", Reason: "only one affinity target may be set"}
		}
	default:
		// Targets are only meaningful for entity/location affinity.
		if b.entity != nil {
			return nil, &ConfigError{Field: "entity", Reason: "target set but affinity mode is " + b.mode.String()}
		}
		if b.location != nil {
			return nil, &ConfigError{Field: "location", Reason: "target set but affinity mode is " + b.mode.String()}
		}
	}

	limit := b.limit
	if !b.limitSet {
		limit = 0
	}

	t := &Task{
		id:              uuid.NewString(),
		name:            b.name,
		mode:            b.mode,
		entity:          b.entity,
		location:        b.location,
		delayTicks:      b.delayTicks,
		periodTicks:     b.periodTicks,
		limit:           limit,
		timeout:         b.timeout,
		body:            body,
		ctxBody:         ctxBody,
		onError:         b.onError,
		onComplete:      b.onComplete,
		onRetired:       b.onRetired,
		cancelOnFailure: b.cancelOnFailure,
		state:           StatePending,
		done:            make(chan struct{}),
	}
	return t, nil
}
