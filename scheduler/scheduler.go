// Package scheduler drives coroutines on top of a worker's ioloop.Loop: it
// turns "this coroutine is ready to run" into a task submitted to the loop,
// so that at most one coroutine is ever Running on a given worker at a time
// (ioloop.Loop already guarantees its own tasks execute one at a time, on a
// single goroutine — the scheduler rides that guarantee rather than
// reimplementing it).
//
// FIFO ordering of resumes follows directly from ioloop's ChunkedIngress
// submission queue. Deadline re-arms go through ioloop's timer heap, which
// orders by deadline only, so timers with equal deadlines fire in no defined
// order. The scheduler adds
// only the monitor handoff (submit/remove around every Resume) and the
// re-arm logic for a coroutine that suspended with a plain deadline (no
// external wake source already registered, e.g. hook.NanoSleep's first
// phase).
package scheduler

import (
	"context"
	"time"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/monitor"
	"github.com/joeycumines/niocoro/waitregistry"
)

// Scheduler coordinates coroutine execution on one worker: one ioloop.Loop,
// one wait registry for fd-readiness waiters, and a worker id used to
// attribute monitor preemption events.
type Scheduler struct {
	Loop     *ioloop.Loop
	Wait     *waitregistry.Registry
	WorkerID int

	onComplete func(co *coroutine.Coroutine)
}

// New constructs a Scheduler bound to loop. onComplete, if non-nil, is
// invoked (on the loop goroutine) the moment a coroutine reaches a terminal
// state. niocoro passes nil; JoinHandles are filled from inside the
// coroutine body (pool.Submit, niocoro.Runtime.Go), not through this
// callback.
func New(loop *ioloop.Loop, workerID int, onComplete func(co *coroutine.Coroutine)) *Scheduler {
	return &Scheduler{
		Loop:       loop,
		Wait:       waitregistry.New(),
		WorkerID:   workerID,
		onComplete: onComplete,
	}
}

// Go creates a coroutine from fn and schedules it to start as soon as the
// worker is free.
func (s *Scheduler) Go(fn coroutine.Func) *coroutine.Coroutine {
	co := coroutine.New(fn)
	s.Enqueue(co, true)
	return co
}

// Enqueue submits a resume of co to the worker's loop. woken is the value
// Resume will deliver to whatever Suspend/SuspendUntil call co is parked in
// (ignored on the first resume, which always starts the body). Safe to call
// from any goroutine.
func (s *Scheduler) Enqueue(co *coroutine.Coroutine, woken bool) {
	_ = s.Loop.Submit(ioloop.Task{Runnable: func() {
		s.resume(co, woken)
	}})
}

// WakeAt resumes co only if it is still suspended in the epoch the caller
// observed when it registered a wake source (a wait-registry waiter or a
// scheduler-owned timer). This is how two independent wake sources racing
// the same suspension point stay idempotent: whichever task runs first on
// the loop goroutine wins, the other is a no-op. Safe to call from any
// goroutine; the actual resume still only ever happens on the loop
// goroutine.
func (s *Scheduler) WakeAt(co *coroutine.Coroutine, epoch uint64, woken bool) {
	_ = s.Loop.Submit(ioloop.Task{Runnable: func() {
		if co.Epoch() != epoch {
			return
		}
		s.resume(co, woken)
	}})
}

func (s *Scheduler) resume(co *coroutine.Coroutine, woken bool) {
	monitor.Default().Track(s.WorkerID, co)
	done := co.Resume(woken)
	monitor.Default().Untrack(co)

	if done {
		if s.onComplete != nil {
			s.onComplete(co)
		}
		return
	}

	if co.ExternalWake() {
		// hook (or another caller) already armed its own wake source(s) for
		// this suspension; the scheduler must not also race a timer against
		// them.
		return
	}

	dl, ok := co.Deadline()
	if !ok {
		// A plain Suspend with no deadline: something else (pool assigning
		// work, an explicit cross-coroutine signal) is responsible for
		// calling Enqueue/WakeAt later.
		return
	}

	epoch := co.Epoch()
	delay := time.Until(dl)
	if delay < 0 {
		delay = 0
	}
	_ = s.Loop.ScheduleTimer(delay, func() {
		if co.Epoch() != epoch {
			return
		}
		s.resume(co, false)
	})
}

// Drive runs the worker's event loop until ctx is cancelled or Shutdown is
// called. All coroutine resumption happens as tasks executed from within
// this call. This is the permanent, one-shot driver a worker goroutine calls
// for its entire lifetime.
func (s *Scheduler) Drive(ctx context.Context) error {
	return s.Loop.Run(ctx)
}

// Run drives the worker's event loop for at most budget, implementing a
// bounded scheduling pass: drain due timers, resume ready coroutines, and
// poll for I/O readiness, stopping once budget is exhausted rather than
// running forever. Unlike Drive, the loop remains usable afterwards for a
// further Run or Drive call. Safe to call only from the goroutine that owns
// the Scheduler (normally the embedder's own coroutine-pump loop).
func (s *Scheduler) Run(budget time.Duration) error {
	return s.Loop.RunFor(budget)
}

// Shutdown stops the worker's loop, releasing any coroutines still parked
// on fd readiness via the wait registry.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Wait.RejectAll()
	return s.Loop.Shutdown(ctx)
}
