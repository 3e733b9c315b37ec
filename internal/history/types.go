package history

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the task history recorder.
//
// Driver values:
//   - "memory": bounded in-process ring (default)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string        // sqlite only
	Size        int           // memory ring capacity; 0 means default
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one task lifecycle event. Keep it compact and schema-stable.
type Record struct {
	At       time.Time
	TaskID   string
	Name     string
	Mode     string
	Event    string // scheduled, fired, completed, failed, cancelled, retired, chain_step
	Execs    int64
	Step     int
	Duration time.Duration
	Error    string
}

// Store is the minimal persistence API for task history.
type Store interface {
	Append(rec Record) error
	Recent(limit int) ([]Record, error)
	Close() error
}
