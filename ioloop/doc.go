// Package ioloop provides the per-worker selector/timer/task-submission core
// that the niocoro coroutine runtime schedules coroutines on top of.
//
// # Architecture
//
// Each worker owns one [Loop], which multiplexes three things on a single
// goroutine: readiness notifications from a platform poller, a min-heap of
// timer deadlines, and a queue of externally-submitted tasks. The scheduler
// package drives a Loop through [Loop.Run] (or a bounded [Loop.RunFor]
// pass), turning readiness/timer events into coroutine resumes.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - macOS: kqueue
//   - Windows: IOCP (I/O Completion Ports)
//
// File descriptor operations ([Loop.RegisterFD], [Loop.UnregisterFD],
// [Loop.ModifyFD]) provide cross-platform I/O readiness notification; the
// hook package's syscall adapters are the only intended caller.
//
// # Thread Safety
//
// The loop is designed for concurrent access:
//   - [Loop.Submit] and [Loop.SubmitInternal] are safe to call from any goroutine
//   - [Loop.ScheduleReady] is lock-free (MPSC ring buffer)
//   - Timer and FD registration methods are thread-safe
//
// # Execution Model
//
// The loop supports a dual-path execution model:
//   - Fast path (~50ns/task): channel-based scheduling for low-latency scenarios
//   - I/O path: poll-based scheduling once I/O FDs are registered
//
// Task priority ordering within each tick:
//  1. Timer callbacks (earliest deadline first)
//  2. Internal queue tasks ([Loop.SubmitInternal])
//  3. External queue tasks ([Loop.Submit])
//  4. Ready-ring callbacks ([Loop.ScheduleReady]; drained after the external
//     queue and again after each poll, and with strict ordering enabled also
//     after every individual task)
//
// # Usage
//
//	loop, err := ioloop.New(
//	    ioloop.WithStrictReadyOrdering(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	loop.Submit(ioloop.Task{Runnable: func() {
//	    fmt.Println("runs on the loop goroutine")
//	}})
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package defines a small set of wrapped error types:
//   - [TypeError], [RangeError]: argument validation
//   - [TimeoutError]: a deadline elapsing
//   - [PanicError]: a recovered panic value
//   - [AggregateError]: several errors at once
//
// The loop itself constructs none of them: a panicking task is recovered and
// logged, not returned as a [PanicError].
//
// All error types implement the standard [error] interface and an Unwrap
// method; [AggregateError] also implements Is, matching any other
// [AggregateError].
package ioloop
