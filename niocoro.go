// Package niocoro is the process-wide entry point: Init constructs a
// Runtime of W worker scheduler+loop pairs (replacing spec.md's preload/
// C-ABI surface with a direct Go call-site API, redesign note 2), each
// running its own github.com/joeycumines/niocoro/ioloop.Loop, wrapped by a
// scheduler.Scheduler, a hook.Hooks adapter, and a pool.Pool.
package niocoro

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/niocoro/config"
	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/hook"
	"github.com/joeycumines/niocoro/internal/rtlog"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/monitor"
	"github.com/joeycumines/niocoro/pool"
	"github.com/joeycumines/niocoro/scheduler"
)

// worker bundles one OS-thread-shaped unit of execution: a loop, the
// scheduler riding on it, the syscall-interception hooks bound to that
// scheduler, and the worker's own bounded coroutine pool.
type worker struct {
	id    int
	loop  *ioloop.Loop
	sched *scheduler.Scheduler
	hooks *hook.Hooks
	pool  *pool.Pool
}

// Runtime is a started set of workers sharing one process-wide Monitor. Use
// Init to construct the process-wide singleton, or New for an independent
// instance (mainly useful in tests).
type Runtime struct {
	cfg     config.Config
	workers []*worker
	next    atomic.Uint64

	cancel context.CancelFunc
	stopWg sync.WaitGroup
}

// New constructs an independent Runtime from cfg, starting cfg.Workers
// scheduler+loop pairs immediately. Most callers want Init/Default instead;
// New exists for tests that want an isolated Runtime without touching the
// process-wide singleton or Monitor.
func New(cfg config.Config) (*Runtime, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("niocoro: %w: Workers=%d", ErrInvalidArgument, cfg.Workers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{cfg: cfg, cancel: cancel}

	for i := 0; i < cfg.Workers; i++ {
		loop, err := ioloop.New()
		if err != nil {
			cancel()
			return nil, WrapError("niocoro: starting worker loop", err)
		}

		w := &worker{id: i, loop: loop}
		w.sched = scheduler.New(loop, i, nil)
		w.hooks = hook.New(w.sched)
		w.pool = pool.New(w.sched, pool.LoopBlocker{Loop: loop}, pool.Config{
			Min:           cfg.PoolMin,
			Max:           cfg.PoolMax,
			KeepAlive:     cfg.PoolKeepAlive,
			StackSizeHint: cfg.StackSizeHint,
		})
		rt.workers = append(rt.workers, w)

		rt.stopWg.Add(1)
		go func(w *worker) {
			defer rt.stopWg.Done()
			if err := w.sched.Drive(ctx); err != nil {
				rtlog.Error("worker loop exited", err, rtlog.Fields{"worker_id": w.id})
			}
		}(w)
	}

	return rt, nil
}

var (
	defaultMu  sync.Mutex
	defaultRT  *Runtime
	defaultSet bool
)

// Capabilities reports host OS/kernel features relevant to niocoro's
// event-loop backend. Init calls this itself and logs a warning if
// EdgeTriggeredEPollExclusive is false, rather than silently degrading.
func Capabilities() (CapabilityReport, error) {
	return probeCapabilities()
}

// Init constructs the process-wide Runtime from cfg (typically obtained via
// config.FromEnv), configuring the process-wide monitor.Default() to match
// cfg.PreemptInterval, and starts every worker. It is idempotent only in
// the sense that a second call returns ErrAlreadyInitialized rather than
// constructing a second Runtime.
func Init(cfg config.Config) (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSet {
		return nil, ErrAlreadyInitialized
	}

	if caps, err := probeCapabilities(); err != nil {
		rtlog.Warn("capability probe failed", rtlog.Fields{"error": err.Error()})
	} else if !caps.EdgeTriggeredEPollExclusive {
		rtlog.Warn("host kernel lacks edge-triggered EPOLLEXCLUSIVE support (kernel < 5.6)", rtlog.Fields{
			"kernel_version": caps.KernelVersion,
		})
	}

	monitor.SetDefault(monitor.New(monitor.Config{
		Disabled:        cfg.PreemptInterval <= 0,
		Slice:           cfg.PreemptInterval,
		PreemptInterval: cfg.PreemptInterval / 2,
	}))

	rt, err := New(cfg)
	if err != nil {
		return nil, err
	}
	defaultRT = rt
	defaultSet = true
	return rt, nil
}

// Default returns the process-wide Runtime constructed by Init, or
// ErrNotInitialized if Init has not yet run.
func Default() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if !defaultSet {
		return nil, ErrNotInitialized
	}
	return defaultRT, nil
}

// pick returns the next worker via round-robin, distributing coroutines and
// pool tasks evenly across the Runtime's workers.
func (rt *Runtime) pick() *worker {
	n := rt.next.Add(1) - 1
	return rt.workers[int(n%uint64(len(rt.workers)))]
}

// Go spawns fn as a new, unmanaged coroutine on a round-robin-selected
// worker — the coroutine_crate equivalent: every call gets its own
// coroutine, not a pool-bounded one. The returned JoinHandle's result is
// produced exactly once, when fn returns or panics.
//
// fn receives the hooks adapter for the SAME worker it runs on: hooks
// register fds against their owning worker's poller, so a coroutine must
// use the hooks bound to the scheduler resuming it, not some other worker's
// (see Hooks' doc comment for what goes wrong otherwise).
func (rt *Runtime) Go(fn func(sus *coroutine.Suspender, hooks *hook.Hooks) (any, error)) *pool.JoinHandle[any] {
	h, fill := pool.NewJoinHandle[any]()
	w := rt.pick()
	w.sched.Go(func(sus *coroutine.Suspender) (r any, err error) {
		// fill must run even if fn panics, so Join doesn't hang forever;
		// coroutine.Coroutine.run's own recover still applies afterwards
		// and turns the panic into the coroutine's terminal Complete(err).
		defer func() {
			if rec := recover(); rec != nil {
				fill(nil, fmt.Errorf("niocoro: panic: %v", rec))
				panic(rec)
			}
			fill(r, err)
		}()
		return fn(sus, w.hooks)
	})
	return h
}

// Submit runs fn on a round-robin-selected worker's bounded coroutine pool
// — the task_crate/task_join parallel-task surface. Unlike Go, fn is not
// itself suspension-aware: it is meant for bounded-duration CPU work
// dispatched across the pool, not a hook-calling coroutine body.
func (rt *Runtime) Submit(fn func() (any, error)) *pool.JoinHandle[any] {
	w := rt.pick()
	return pool.Submit(w.pool, func(sus *coroutine.Suspender) (any, error) {
		return fn()
	})
}

// Hooks returns the syscall-interception adapter for a round-robin-selected
// worker. Its round-robin counter is independent of Go's, so the worker it
// names is NOT guaranteed to be the one that will run a coroutine spawned by
// a subsequent Go call — registering fds through it from outside that
// coroutine's own worker would register against the wrong poller. Safe uses
// are: a single-worker Runtime (cmd/echoserver's default), or fd operations
// that aren't tied to any particular Go-spawned coroutine. Coroutine bodies
// that call hook methods should instead use the *hook.Hooks Go passes them.
func (rt *Runtime) Hooks() *hook.Hooks {
	return rt.pick().hooks
}

// Shutdown stops every worker's event loop and blocks until all have
// returned.
func (rt *Runtime) Shutdown(context.Context) error {
	rt.cancel()
	rt.stopWg.Wait()
	for _, w := range rt.workers {
		w.pool.Close()
	}
	return nil
}
