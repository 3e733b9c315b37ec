package sched

import (
	"github.com/robfig/cron/v3"

	"tickforge/pkg/logx"
)

// CronBridge maps wall-clock cron expressions onto tick scheduling: each
// trigger submits a fresh one-shot task on the global domain. Cron entries
// therefore get the same routing, error policy and diagnostics as every
// other task.
type CronBridge struct {
	ex  *Executor
	log logx.Logger
	c   *cron.Cron
}

// NewCronBridge creates a stopped bridge. Standard 5-field cron expressions.
func NewCronBridge(ex *Executor, log logx.Logger) *CronBridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CronBridge{ex: ex, log: log, c: cron.New()}
}

// Schedule registers fn under a cron expression. The returned id can be
// passed to Remove.
func (b *CronBridge) Schedule(name, spec string, fn TaskFunc) (cron.EntryID, error) {
	id, err := b.c.AddFunc(spec, func() {
		if _, err := b.ex.NewTask().Sync().Named(name).Run(fn); err != nil {
			b.log.Warn("cron trigger dropped", logx.String("entry", name), logx.Err(err))
		}
	})
	if err != nil {
		return 0, &ConfigError{Field: "cron", Reason: err.Error()}
	}
	b.log.Info("cron entry registered", logx.String("entry", name), logx.String("spec", spec))
	return id, nil
}

// Remove unregisters a cron entry.
func (b *CronBridge) Remove(id cron.EntryID) { b.c.Remove(id) }

// Start begins evaluating cron expressions.
func (b *CronBridge) Start() { b.c.Start() }

// Stop stops triggering. Already submitted tasks are unaffected.
func (b *CronBridge) Stop() {
	ctx := b.c.Stop()
	<-ctx.Done()
}
