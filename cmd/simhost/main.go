package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickforge/internal/app"
	"tickforge/internal/sched"
	"tickforge/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	registerDemoTasks(a)

	<-ctx.Done()
	_ = a.Stop(context.Background())
}

// registerDemoTasks gives an idle simhost something observable: a heartbeat
// on the global domain and a wandering entity that hops regions.
func registerDemoTasks(a *app.App) {
	log := a.Logger().With(logx.String("svc", "demo"))
	sch := a.Scheduler()
	host := a.Host()

	if _, err := sch.NewTask().Sync().Named("heartbeat").Every(20).Run(func(context.Context) error {
		snap := host.Snapshot()
		log.Info("heartbeat", logx.Int64("tick", snap.Tick), logx.Int("pending_timers", snap.PendingTimers))
		return nil
	}); err != nil {
		log.Warn("heartbeat not scheduled", logx.Err(err))
	}

	wanderer := host.SpawnEntity(0)
	if _, err := sch.NewTask().ForEntity(wanderer).Every(40).OnRetired(func() {
		log.Info("wanderer retired")
	}).RunWithContext(func(ctx context.Context, ec *sched.Execution) error {
		log.Debug("wanderer pulse", logx.Int64("n", ec.Count()))
		if host.SupportsMultiDomain() {
			host.MoveEntity(wanderer, int(ec.Count())%2)
		}
		if ec.Count() >= 100 {
			ec.Cancel()
		}
		return nil
	}); err != nil {
		log.Warn("wanderer not scheduled", logx.Err(err))
	}
}
