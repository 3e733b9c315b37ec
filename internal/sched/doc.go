// Package sched implements affinity-aware task scheduling on top of an
// affinity.Provider.
//
// Callers describe work with a Builder (affinity mode, tick delay, repeat
// period, execution limit, callbacks) or compose multi-step Chains whose
// steps hop between domains with values flowing through. The Executor owns
// the task lifecycle: it routes every firing onto the correct concurrency
// domain, re-resolving entity and location ownership per firing, applies
// the error and retirement policies, and emits events and metrics.
//
// All timing is expressed in host ticks, not wall time; the CronBridge maps
// wall-clock cron expressions onto one-shot tick tasks where needed.
package sched
