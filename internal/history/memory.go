package history

import "sync"

const defaultRingSize = 256

// memoryStore keeps the newest records in a fixed ring. Zero allocation per
// append once the ring is full.
type memoryStore struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
}

func newMemoryStore(size int) *memoryStore {
	if size <= 0 {
		size = defaultRingSize
	}
	return &memoryStore{buf: make([]Record, size)}
}

func (s *memoryStore) Append(rec Record) error {
	s.mu.Lock()
	s.buf[s.next] = rec
	s.next++
	if s.next == len(s.buf) {
		s.next = 0
		s.full = true
	}
	s.mu.Unlock()
	return nil
}

// Recent returns up to limit records, newest first.
func (s *memoryStore) Recent(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := s.next - 1 - i
		if idx < 0 {
			idx += len(s.buf)
		}
		out = append(out, s.buf[idx])
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }
