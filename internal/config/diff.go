package config

import (
	"strings"

	"tickforge/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus structured
// attrs describing the new values, for the reload log line.
//
// Host topology changes (regions, tick interval) are reported but require a
// restart to take effect; callers decide how loudly to say so.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Host != newCfg.Host {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.Int("host.regions", newCfg.Host.Regions),
			logx.Int("host.async_workers", newCfg.Host.AsyncWorkers),
			logx.String("host.tick_interval", strings.TrimSpace(newCfg.Host.TickInterval)),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.default_timeout", strings.TrimSpace(newCfg.Executor.DefaultTimeout)),
			logx.Int("executor.warn_rate_per_sec", newCfg.Executor.WarnRatePerSec),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.Bool("history.enabled", newCfg.History.Enabled),
			logx.String("history.driver", newCfg.History.Driver),
		)
	}

	return changed, attrs
}
