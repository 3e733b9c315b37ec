package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
host:
  regions: 4
  async_workers: 8
  tick_interval: 25ms
executor:
  default_timeout: 2s
  warn_rate_per_sec: 10
metrics:
  enabled: true
  addr: 127.0.0.1:9190
history:
  enabled: true
  driver: memory
  size: 128
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Host.Regions != 4 || cfg.Host.AsyncWorkers != 8 {
		t.Fatalf("host = %+v", cfg.Host)
	}
	tick, err := cfg.Host.TickIntervalDuration(50 * time.Millisecond)
	if err != nil || tick != 25*time.Millisecond {
		t.Fatalf("tick = %v err = %v, want 25ms", tick, err)
	}
	timeout, err := cfg.Executor.DefaultTimeoutDuration()
	if err != nil || timeout != 2*time.Second {
		t.Fatalf("timeout = %v err = %v, want 2s", timeout, err)
	}
	if !cfg.History.Enabled || cfg.History.Size != 128 {
		t.Fatalf("history = %+v", cfg.History)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"host":{"regions":0},"executor":{}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Host.Regions != 0 {
		t.Fatalf("regions = %d, want 0", cfg.Host.Regions)
	}
	tick, err := cfg.Host.TickIntervalDuration(50 * time.Millisecond)
	if err != nil || tick != 50*time.Millisecond {
		t.Fatalf("tick = %v, want 50ms default", tick)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "unknown field",
			file: "config.json",
			body: `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"host":{"regions":0},"executor":{},"bogus":true}`,
		},
		{
			name: "negative regions",
			file: "config.yaml",
			body: "logging: {level: info, console: true, file: {enabled: false, path: \"\"}}\nhost: {regions: -1}\nexecutor: {}\n",
		},
		{
			name: "bad tick interval",
			file: "config.yaml",
			body: "logging: {level: info, console: true, file: {enabled: false, path: \"\"}}\nhost: {regions: 0, tick_interval: soon}\nexecutor: {}\n",
		},
		{
			name: "unknown history driver",
			file: "config.yaml",
			body: "logging: {level: info, console: true, file: {enabled: false, path: \"\"}}\nhost: {regions: 0}\nexecutor: {}\nhistory: {enabled: true, driver: etcd}\n",
		},
		{
			name: "trailing data",
			file: "config.json",
			body: `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"host":{"regions":0},"executor":{}}{}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tt.file, tt.body)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("expected a parse/validate error")
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Host: HostConfig{Regions: 2}}
	newCfg := &Config{Host: HostConfig{Regions: 4}, Logging: LoggingConfig{Level: "debug"}}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 2 {
		t.Fatalf("changed = %v, want logging and host", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for the changed sections")
	}

	if changed, _ := SummarizeChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
