package history

import (
	"context"
	"testing"
	"time"

	"tickforge/internal/eventbus"
	"tickforge/internal/sched"
	"tickforge/pkg/logx"
)

func TestServiceRecordsTaskEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	store := newMemoryStore(16)
	svc := NewService(store, bus, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() { svc.Stop(2 * time.Second) })

	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskCompleted,
		Data: sched.TaskEvent{ID: "t1", Name: "demo", Mode: "async", State: "completed", Execs: 2},
	})
	// Non-task events are ignored.
	bus.Publish(eventbus.Event{Type: "something.else", Data: 42})

	deadline := time.Now().Add(3 * time.Second)
	for {
		recs, err := svc.Recent(10)
		if err != nil {
			t.Fatalf("Recent error: %v", err)
		}
		if len(recs) == 1 {
			rec := recs[0]
			if rec.TaskID != "t1" || rec.Event != "completed" || rec.Mode != "async" || rec.Execs != 2 {
				t.Fatalf("record = %+v", rec)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded %d events, want 1", len(recs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
