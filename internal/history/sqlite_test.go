package history

import (
	"path/filepath"
	"testing"
	"time"

	"tickforge/pkg/logx"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "history.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Now()
	for i, ev := range []string{"scheduled", "fired", "completed"} {
		err := store.Append(Record{
			At:       base.Add(time.Duration(i) * time.Second),
			TaskID:   "abc",
			Name:     "roundtrip",
			Mode:     "global_sync",
			Event:    ev,
			Execs:    int64(i),
			Duration: 3 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("Append(%s) error: %v", ev, err)
		}
	}

	got, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(got))
	}
	if got[0].Event != "completed" || got[1].Event != "fired" {
		t.Fatalf("events = [%s %s], want newest first", got[0].Event, got[1].Event)
	}
	if got[0].TaskID != "abc" || got[0].Name != "roundtrip" || got[0].Duration != 3*time.Millisecond {
		t.Fatalf("record fields lost: %+v", got[0])
	}
}

func TestSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
