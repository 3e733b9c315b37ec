package history

import (
	"fmt"
	"testing"
)

func TestMemoryStoreRecentNewestFirst(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(4)

	for i := 0; i < 3; i++ {
		if err := s.Append(Record{TaskID: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 3 || got[0].TaskID != "t2" || got[2].TaskID != "t0" {
		t.Fatalf("Recent = %v, want newest first", ids(got))
	}
}

func TestMemoryStoreWrapsAround(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(3)

	for i := 0; i < 7; i++ {
		_ = s.Append(Record{TaskID: fmt.Sprintf("t%d", i)})
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	want := []string{"t6", "t5", "t4"}
	if len(got) != len(want) {
		t.Fatalf("Recent = %v, want %v", ids(got), want)
	}
	for i := range want {
		if got[i].TaskID != want[i] {
			t.Fatalf("Recent = %v, want %v", ids(got), want)
		}
	}
}

func TestMemoryStoreLimit(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(8)
	for i := 0; i < 5; i++ {
		_ = s.Append(Record{TaskID: fmt.Sprintf("t%d", i)})
	}
	got, _ := s.Recent(2)
	if len(got) != 2 || got[0].TaskID != "t4" || got[1].TaskID != "t3" {
		t.Fatalf("Recent(2) = %v, want [t4 t3]", ids(got))
	}
}

func ids(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.TaskID)
	}
	return out
}
