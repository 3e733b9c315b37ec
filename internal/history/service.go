package history

import (
	"context"
	"time"

	"tickforge/internal/eventbus"
	"tickforge/internal/runtime/supervisor"
	"tickforge/internal/sched"
	"tickforge/pkg/logx"
)

// Service tails the event bus and records task lifecycle events into a
// Store. Recording is strictly off the scheduling path: a slow store can
// drop events (the bus is non-blocking) but never stall a domain.
type Service struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	sup   *supervisor.Supervisor
	ch    <-chan eventbus.Event
	unsub func()
}

func NewService(store Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, bus: bus, log: log}
}

// Start subscribes and begins recording.
func (s *Service) Start(ctx context.Context) {
	s.ch, s.unsub = s.bus.Subscribe(512)
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("svc", "history"))))
	s.sup.Go("history-writer", s.run)
}

func (s *Service) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.ch:
			if !ok {
				return nil
			}
			s.record(ev)
		}
	}
}

func (s *Service) record(ev eventbus.Event) {
	te, ok := ev.Data.(sched.TaskEvent)
	if !ok {
		return
	}
	rec := Record{
		At:       ev.Time,
		TaskID:   te.ID,
		Name:     te.Name,
		Mode:     te.Mode,
		Event:    eventName(ev.Type),
		Execs:    te.Execs,
		Step:     te.Step,
		Duration: te.Duration,
	}
	if te.Error != "" {
		rec.Error = te.Error
	}
	if err := s.store.Append(rec); err != nil {
		s.log.Warn("history append failed", logx.String("task", te.ID), logx.Err(err))
	}
}

func eventName(evType string) string {
	switch evType {
	case eventbus.TypeTaskScheduled:
		return "scheduled"
	case eventbus.TypeTaskFired:
		return "fired"
	case eventbus.TypeTaskCompleted:
		return "completed"
	case eventbus.TypeTaskFailed:
		return "failed"
	case eventbus.TypeTaskCancelled:
		return "cancelled"
	case eventbus.TypeTaskRetired:
		return "retired"
	case eventbus.TypeChainStep:
		return "chain_step"
	default:
		return evType
	}
}

// Recent proxies to the store.
func (s *Service) Recent(limit int) ([]Record, error) {
	return s.store.Recent(limit)
}

// Stop unsubscribes, drains the worker, and closes the store.
func (s *Service) Stop(timeout time.Duration) {
	if s.unsub != nil {
		s.unsub()
	}
	if s.sup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = s.sup.Stop(ctx)
		cancel()
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("history store close failed", logx.Err(err))
	}
}
