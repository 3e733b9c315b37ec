package sched

import (
	"context"
	"sync"
	"time"

	"tickforge/internal/affinity"
)

// AffinityMode selects the concurrency domain a task's firings must run in.
type AffinityMode int

const (
	// GlobalSync runs on the global (main) domain.
	GlobalSync AffinityMode = iota
	// Async runs on the background pool.
	Async
	// Entity runs on whichever domain currently owns the bound entity.
	Entity
	// Location runs on whichever domain owns the bound location.
	Location
	// GlobalRegion runs on the host's global region domain. On hosts without
	// region threading this is identical to GlobalSync.
	GlobalRegion
)

func (m AffinityMode) String() string {
	switch m {
	case GlobalSync:
		return "global_sync"
	case Async:
		return "async"
	case Entity:
		return "entity"
	case Location:
		return "location"
	case GlobalRegion:
		return "global_region"
	default:
		return "unknown"
	}
}

// TaskState is the task lifecycle state.
//
// PENDING -> SCHEDULED -> RUNNING -> {SCHEDULED | COMPLETED | FAILED |
// CANCELLED | RETIRED}; SCHEDULED -> CANCELLED is also valid. Terminal
// states never transition again. All transitions happen inside the Executor.
type TaskState int32

const (
	StatePending TaskState = iota
	StateScheduled
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
	StateRetired
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can occur.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateRetired:
		return true
	}
	return false
}

// TaskFunc is a plain task body.
type TaskFunc func(ctx context.Context) error

// CtxTaskFunc is a context-aware task body. The Execution argument carries
// the firing ordinal and a cancel-from-within capability.
type CtxTaskFunc func(ctx context.Context, ec *Execution) error

// Task describes one unit of schedulable work plus its executor-owned
// execution state. Build Tasks through the Builder; the configuration half
// is immutable once built, and the mutable half is only ever written by the
// Executor (handles read consistent snapshots via Info()).
type Task struct {
	id   string
	name string

	mode     AffinityMode
	entity   affinity.EntityRef
	location affinity.LocationRef

	delayTicks  int64
	periodTicks int64
	limit       int64 // 0 = unlimited

	timeout time.Duration

	body    TaskFunc
	ctxBody CtxTaskFunc

	onError         func(err error)
	onComplete      func()
	onRetired       func()
	cancelOnFailure bool

	// Mutable state. Guarded by mu; written only by the Executor.
	mu          sync.Mutex
	state       TaskState
	execs       int64
	createdAt   time.Time
	lastFiredAt time.Time
	nextTick    int64
	totalDur    time.Duration
	lastErr     error
	failErr     error
	cancelReq   bool
	alarm       affinity.Token

	done     chan struct{}
	doneOnce sync.Once
}

func (t *Task) ID() string         { return t.id }
func (t *Task) Name() string       { return t.name }
func (t *Task) Mode() AffinityMode { return t.mode }

// TaskInfo is a consistent snapshot of a task's execution state.
type TaskInfo struct {
	ID          string
	Name        string
	Mode        AffinityMode
	State       TaskState
	Executions  int64
	CreatedAt   time.Time
	LastFiredAt time.Time
	NextTick    int64
	TotalDur    time.Duration
	AvgDur      time.Duration
	LastError   error
}

func (t *Task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		ID:          t.id,
		Name:        t.name,
		Mode:        t.mode,
		State:       t.state,
		Executions:  t.execs,
		CreatedAt:   t.createdAt,
		LastFiredAt: t.lastFiredAt,
		NextTick:    t.nextTick,
		TotalDur:    t.totalDur,
		LastError:   t.lastErr,
	}
	if t.execs > 0 {
		info.AvgDur = t.totalDur / time.Duration(t.execs)
	}
	return info
}

func (t *Task) currentState() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) markDone() {
	t.doneOnce.Do(func() { close(t.done) })
}
