package config

import "time"

// Config is the full simhost configuration. JSON and YAML are both
// accepted; YAML is coerced to JSON so one strict decoder handles both.
//
// All durations are Go duration strings (e.g. "50ms", "10s").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Host     HostConfig     `json:"host"`
	Executor ExecutorConfig `json:"executor"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
	History  HistoryConfig  `json:"history,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HostConfig shapes the simulated host.
//
// Regions 0 means a single-domain host: one global tick domain plus the
// background pool, matching single-threaded server platforms. Regions >= 1
// adds that many region domains.
type HostConfig struct {
	Regions      int    `json:"regions"`
	AsyncWorkers int    `json:"async_workers,omitempty"`
	TickInterval string `json:"tick_interval,omitempty"`
}

// TickIntervalDuration parses the tick interval, defaulting to def.
func (c HostConfig) TickIntervalDuration(def time.Duration) (time.Duration, error) {
	return ParseDurationOrDefault("host.tick_interval", c.TickInterval, def)
}

// ExecutorConfig shapes task execution.
type ExecutorConfig struct {
	// DefaultTimeout bounds task firings that don't set their own timeout.
	// "0s" disables the default deadline.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	WarnRatePerSec int    `json:"warn_rate_per_sec,omitempty"`
}

func (c ExecutorConfig) DefaultTimeoutDuration() (time.Duration, error) {
	return ParseDurationField("executor.default_timeout", c.DefaultTimeout)
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9190"
}

// HistoryConfig controls the task history recorder.
//
// Driver "memory" keeps a bounded in-process ring; "sqlite" persists to
// disk.
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Driver      string `json:"driver,omitempty"` // "memory" (default) or "sqlite"
	Path        string `json:"path,omitempty"`
	Size        int    `json:"size,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
