package sched

import (
	"errors"
	"fmt"
)

var (
	ErrShutdown   = errors.New("scheduler shutting down")
	ErrStopped    = errors.New("scheduler stopped")
	ErrTargetGone = errors.New("entity target no longer exists")
)

// ConfigError reports invalid builder usage. It is raised at the
// build/submit boundary, never during a firing.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("task config: %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ExecutionError wraps an error thrown by a task body, carrying the identity
// of the failing task.
type ExecutionError struct {
	TaskID   string
	TaskName string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.TaskName != "" {
		return fmt.Sprintf("task %s (%s): %v", e.TaskName, e.TaskID, e.Err)
	}
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
