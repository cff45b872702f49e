// Package pool implements a bounded, reusable coroutine pool: a Min..Max
// range of worker coroutines that pull submitted tasks off an internal
// queue, with an idle reaper that retires workers above Min once they have
// sat unused longer than KeepAlive.
//
// Grounded on open-coroutine-core/src/pool/tests.rs's CoroutinePoolImpl
// shape (min/max size, a Blocker trait injected for idle waiting) and on
// this module's own coroutine+scheduler packages for the worker bodies
// themselves — a worker is an ordinary coroutine.Func that loops
// dequeue-and-run, yielding the run token via Suspender.Suspend (never a
// raw channel receive, which would block the scheduler's single dispatch
// goroutine rather than just this worker).
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/scheduler"
)

// Blocker abstracts how the reaper waits between idle-worker sweeps.
// Production code should use LoopBlocker (backed by the worker's own
// ioloop.Loop); tests substitute SleepBlocker, matching
// open-coroutine-core/src/pool/tests.rs's test-only Blocker implementation.
type Blocker interface {
	Block(d time.Duration)
}

// SleepBlocker blocks the calling (reaper) goroutine with time.Sleep. It
// exists for tests that construct a Pool without a running event loop.
type SleepBlocker struct{}

// Block sleeps for d.
func (SleepBlocker) Block(d time.Duration) { time.Sleep(d) }

// LoopBlocker blocks by scheduling a one-shot timer on Loop and waiting for
// it, so the reaper goroutine's idle wait is visible to (and cancellable
// alongside) the same event loop the pool's workers run on.
type LoopBlocker struct {
	Loop *ioloop.Loop
}

// Block waits for d via the loop's timer heap.
func (b LoopBlocker) Block(d time.Duration) {
	done := make(chan struct{})
	if err := b.Loop.ScheduleTimer(d, func() { close(done) }); err != nil {
		// Loop is shutting down; don't hang the reaper.
		return
	}
	<-done
}

// Config configures a Pool.
type Config struct {
	// Min is the number of worker coroutines the reaper will never retire
	// below.
	Min int
	// Max is the most worker coroutines the pool will ever run
	// concurrently. Zero or negative means unbounded.
	Max int
	// Initial is how many workers to pre-spawn in New, before any Submit.
	Initial int
	// KeepAlive is how long a worker may sit idle, above Min, before the
	// reaper retires it. Zero disables the reaper (idle workers live
	// forever).
	KeepAlive time.Duration
	// StackSizeHint is carried for API parity with the original's
	// configurable coroutine stack size; Go goroutines grow their stacks
	// on demand, so this is advisory only and otherwise unused.
	StackSizeHint int
}

type task struct {
	run func(sus *coroutine.Suspender)
}

type worker struct {
	co         *coroutine.Coroutine
	assigned   *task
	lastActive time.Time
}

// Pool is a bounded set of reusable worker coroutines, all driven by one
// scheduler.Scheduler (and therefore one worker OS thread's ioloop.Loop).
type Pool struct {
	sched   *scheduler.Scheduler
	blocker Blocker
	cfg     Config

	mu      sync.Mutex
	idle    []*worker
	pending []task
	count   int
	closed  bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New constructs a Pool bound to sched, pre-spawning cfg.Initial workers.
func New(sched *scheduler.Scheduler, blocker Blocker, cfg Config) *Pool {
	if blocker == nil {
		blocker = SleepBlocker{}
	}
	p := &Pool{
		sched:   sched,
		blocker: blocker,
		cfg:     cfg,
	}
	for i := 0; i < cfg.Initial; i++ {
		p.spawn(nil)
	}
	if cfg.KeepAlive > 0 && cfg.Max > cfg.Min {
		p.reaperStop = make(chan struct{})
		p.reaperDone = make(chan struct{})
		go p.reap()
	}
	return p
}

// submit enqueues run, reusing an idle worker, spawning a new one (if under
// Max), or queueing it for whichever worker goes idle next.
func (p *Pool) submit(t task) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		w.assigned = &t
		p.mu.Unlock()
		p.sched.Enqueue(w.co, true)
		return
	}
	if p.cfg.Max <= 0 || p.count < p.cfg.Max {
		p.spawnLocked(&t)
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, t)
	p.mu.Unlock()
}

// spawn creates a new worker, optionally with an initial assigned task.
func (p *Pool) spawn(initial *task) {
	p.mu.Lock()
	p.spawnLocked(initial)
	p.mu.Unlock()
}

func (p *Pool) spawnLocked(initial *task) {
	w := &worker{assigned: initial, lastActive: time.Now()}
	p.count++
	w.co = p.sched.Go(p.workerLoop(w))
}

func (p *Pool) workerLoop(w *worker) coroutine.Func {
	return func(sus *coroutine.Suspender) (any, error) {
		for {
			t, idle := p.next(w)
			if idle {
				// Suspend panics via coroutine's own cancellation handling
				// if the reaper has retired this worker; the panic unwinds
				// straight to coroutine.Coroutine.run's recover, so there is
				// nothing to check here on return.
				sus.Suspend()
				continue
			}
			t.run(sus)
		}
	}
}

// next returns the worker's next task, or marks it idle (appending it to
// p.idle) and reports idle=true if there is none.
func (p *Pool) next(w *worker) (t task, idle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.assigned != nil {
		t, w.assigned = *w.assigned, nil
		return t, false
	}
	if n := len(p.pending); n > 0 {
		t, p.pending = p.pending[0], p.pending[1:]
		return t, false
	}
	w.lastActive = time.Now()
	p.idle = append(p.idle, w)
	return task{}, true
}

func (p *Pool) reap() {
	defer close(p.reaperDone)
	interval := p.cfg.KeepAlive / 2
	if interval <= 0 {
		interval = time.Millisecond
	}
	for {
		p.blocker.Block(interval)
		select {
		case <-p.reaperStop:
			return
		default:
		}
		p.sweep()
	}
}

func (p *Pool) sweep() {
	now := time.Now()
	p.mu.Lock()
	var retired []*worker
	kept := p.idle[:0]
	for _, w := range p.idle {
		if p.count-len(retired) > p.cfg.Min && now.Sub(w.lastActive) >= p.cfg.KeepAlive {
			retired = append(retired, w)
			continue
		}
		kept = append(kept, w)
	}
	p.idle = kept
	p.count -= len(retired)
	p.mu.Unlock()

	for _, w := range retired {
		w.co.Cancel()
		p.sched.Enqueue(w.co, true)
	}
}

// Count reports the current number of live worker coroutines, idle or busy.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Close stops the reaper. Already-running and queued tasks are unaffected;
// in-flight workers keep running until their scheduler's event loop is
// itself shut down.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.reaperStop != nil {
		close(p.reaperStop)
		<-p.reaperDone
	}
}

// JoinHandle is the result slot for a single submitted task.
type JoinHandle[R any] struct {
	done   chan struct{}
	result R
	err    error
}

// NewJoinHandle constructs a JoinHandle together with the func that fills
// it, for callers (niocoro.Runtime.Go) that dispatch a coroutine directly
// via scheduler.Go rather than through a Pool's bounded worker set, but
// still want to hand back the same JoinHandle type Submit's callers get.
func NewJoinHandle[R any]() (*JoinHandle[R], func(R, error)) {
	h := &JoinHandle[R]{done: make(chan struct{})}
	return h, func(r R, err error) {
		h.result, h.err = r, err
		close(h.done)
	}
}

// Join blocks until the task completes or ctx is cancelled.
func (h *JoinHandle[R]) Join(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// TimeoutJoin is Join with a relative deadline. The bool return is false if
// d elapsed before the task completed (Go idiom replacing the original's
// long/0/-1 tri-state return).
func (h *JoinHandle[R]) TimeoutJoin(d time.Duration) (R, error, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	r, err := h.Join(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return r, nil, false
	}
	return r, err, true
}

// Submit runs fn on a pool worker coroutine, returning a JoinHandle for its
// result. A generic package-level function, since Go methods cannot
// introduce their own type parameters.
func Submit[R any](p *Pool, fn func(sus *coroutine.Suspender) (R, error)) *JoinHandle[R] {
	h := &JoinHandle[R]{done: make(chan struct{})}
	p.submit(task{run: func(sus *coroutine.Suspender) {
		// fill h even if fn panics, so Join doesn't hang forever; the panic
		// still propagates afterwards and is this worker's last task (its
		// coroutine terminates via coroutine.Coroutine.run's own recover).
		defer func() {
			if rec := recover(); rec != nil {
				var zero R
				h.result, h.err = zero, errors.New("pool: panic in submitted task")
				close(h.done)
				panic(rec)
			}
		}()
		r, err := fn(sus)
		h.result, h.err = r, err
		close(h.done)
	}})
	return h
}
