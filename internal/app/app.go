package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickforge/internal/affinity"
	"tickforge/internal/config"
	"tickforge/internal/eventbus"
	"tickforge/internal/history"
	"tickforge/internal/runtime/supervisor"
	"tickforge/internal/sched"
	"tickforge/pkg/logx"
)

const (
	defaultMetricsAddr = "127.0.0.1:9190"
	stopTimeout        = 10 * time.Second
)

// App wires the host, executor, scheduler and supporting services from a
// config file and runs them under one supervisor.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus  eventbus.Bus
	host *affinity.Host
	ex   *sched.Executor
	sch  *sched.Scheduler
	cron *sched.CronBridge
	hist *history.Service

	metricsSrv *http.Server
	sup        *supervisor.Supervisor
}

// NewApp loads the config and builds every component, started or not.
func NewApp(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	tick, err := cfg.Host.TickIntervalDuration(50 * time.Millisecond)
	if err != nil {
		return nil, err
	}
	defTimeout, err := cfg.Executor.DefaultTimeoutDuration()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	hostCfg := affinity.Config{
		Regions:      cfg.Host.Regions,
		AsyncWorkers: cfg.Host.AsyncWorkers,
		TickInterval: tick,
	}
	var host *affinity.Host
	if cfg.Host.Regions > 0 {
		host = affinity.NewRegionHost(hostCfg, log.With(logx.String("svc", "host")))
	} else {
		host = affinity.NewSingleHost(hostCfg, log.With(logx.String("svc", "host")))
	}

	ex := sched.NewExecutor(sched.Config{
		DefaultTimeout: defTimeout,
		WarnRatePerSec: cfg.Executor.WarnRatePerSec,
	}, host, log.With(logx.String("svc", "sched")), bus)

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    bus,
		host:   host,
		ex:     ex,
		sch:    sched.NewScheduler(ex),
		cron:   sched.NewCronBridge(ex, log.With(logx.String("svc", "cron"))),
	}

	if cfg.Metrics.Enabled {
		a.setupMetrics(cfg.Metrics)
	}
	if cfg.History.Enabled {
		if err := a.setupHistory(cfg.History); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Scheduler() *sched.Scheduler { return a.sch }
func (a *App) Cron() *sched.CronBridge     { return a.cron }
func (a *App) Host() *affinity.Host        { return a.host }
func (a *App) Logger() logx.Logger         { return a.log }

func (a *App) setupMetrics(cfg config.MetricsConfig) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.ex.SetMetrics(sched.NewMetrics(reg))

	addr := cfg.Addr
	if addr == "" {
		addr = defaultMetricsAddr
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}
}

func (a *App) setupHistory(cfg config.HistoryConfig) error {
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := history.Open(history.Config{
		Driver:      cfg.Driver,
		Path:        cfg.Path,
		Size:        cfg.Size,
		BusyTimeout: busy,
	}, a.log.With(logx.String("svc", "history")))
	if err != nil {
		return err
	}
	a.hist = history.NewService(store, a.bus, a.log.With(logx.String("svc", "history")))
	return nil
}

// Start launches everything. The app runs until ctx is cancelled or Stop is
// called.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("svc", "app"))))

	a.host.Start(a.sup.Context())
	if a.hist != nil {
		a.hist.Start(a.sup.Context())
	}
	a.cron.Start()

	if a.metricsSrv != nil {
		srv := a.metricsSrv
		a.sup.Go("metrics-http", func(context.Context) error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		a.log.Info("metrics listening", logx.String("addr", srv.Addr))
	}

	// Live config reload: logging changes apply in place, the rest is logged
	// so operators know a restart is needed.
	updates := a.cfgMgr.Subscribe(1)
	a.sup.Go("config-watch", a.cfgMgr.Watch)
	a.sup.Go0("config-apply", func(ctx context.Context) {
		prev := a.cfgMgr.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(prev, cfg)
				prev = cfg
			}
		}
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logSvc.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "host":
			a.log.Warn("host topology change requires restart")
		}
	}
}

// Stop shuts down in dependency order: stop producing, drain the executor,
// then stop the host and the recorders.
func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.cron.Stop()

	sctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := a.sch.Shutdown(sctx); err != nil {
		a.log.Warn("executor drain incomplete", logx.Err(err))
	}

	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(sctx)
	}
	a.host.Stop(sctx)
	if a.hist != nil {
		a.hist.Stop(stopTimeout)
	}
	if a.sup != nil {
		_ = a.sup.Stop(sctx)
	}
	_ = a.logSvc.Close()
	return nil
}
