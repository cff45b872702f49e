// Package hook implements the syscall interception chain: a small set of
// blocking-looking operations (Read, Write, Accept, Connect, Poll, Shutdown,
// Close, NanoSleep/Sleep/USleep) that transparently suspend the calling
// coroutine instead of blocking an OS thread, and fall through to the raw
// platform call unchanged when no coroutine is involved.
//
// Each operation is the same three-layer composition described by
// libhook/src/lib.rs in the original implementation, expressed as ordinary
// Go functions rather than symbol interposition (there is no libc symbol
// table to hook in a statically-linked Go binary, and LD_PRELOAD-style
// interposition has no Go equivalent):
//
//   - Facade: the exported method on *Hooks (Read, Write, Accept, ...). It
//     takes an explicit *coroutine.Suspender instead of discovering "is a
//     coroutine currently running" via a goroutine-local lookup — Go has no
//     cheap, safe thread-local storage, and threading the Suspender through
//     call sites that already have it (they're running inside a
//     coroutine.Func) is simpler and more idiomatic than faking one. A nil
//     Suspender means "no coroutine", and every facade method falls through
//     directly to the raw call in that case, matching the "byte-identical
//     when no coroutine is active" requirement.
//   - Adapter: the unexported retry loop. Sets the fd non-blocking exactly
//     once (ensureNonBlocking tracks this per fd, mirroring the original's
//     "adapters retain that flag"), attempts the raw call, and on
//     EAGAIN/EWOULDBLOCK registers interest with the waitregistry and
//     suspends, retrying on wake.
//   - Raw: the unconditional platform syscall, in raw_unix.go / raw_windows.go.
//
// A *Hooks is bound to one worker's *scheduler.Scheduler — the scheduler
// already owns that worker's *ioloop.Loop (for fd registration and timers)
// and *waitregistry.Registry (for parking coroutines on fd readiness), so
// Hooks needs no state of its own beyond fd bookkeeping.
package hook

import (
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/scheduler"
	"github.com/joeycumines/niocoro/waitregistry"
)

// ErrTimeout is returned when a deadline elapses before a fd becomes ready.
var ErrTimeout = errors.New("hook: timeout")

// ErrInvalidArgument is returned for malformed arguments (a negative sleep
// duration, an unrecognized ShutdownHow).
var ErrInvalidArgument = errors.New("hook: invalid argument")

// ErrNotSupported is returned by operations this build's platform raw layer
// does not implement (see raw_windows.go).
var ErrNotSupported = errors.New("hook: not supported on this platform")

// ShutdownHow selects which direction(s) hook.Shutdown closes.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Hooks is the per-worker syscall interception chain.
type Hooks struct {
	Sched *scheduler.Scheduler

	mu         sync.Mutex
	registered map[int]bool
	nonblock   map[int]bool
}

// New binds a Hooks instance to a worker's scheduler.
func New(sched *scheduler.Scheduler) *Hooks {
	return &Hooks{
		Sched:      sched,
		registered: make(map[int]bool),
		nonblock:   make(map[int]bool),
	}
}

func (h *Hooks) ensureNonBlocking(fd int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.nonblock[fd] {
		return nil
	}
	if err := rawSetNonblocking(fd); err != nil {
		return err
	}
	h.nonblock[fd] = true
	return nil
}

// ensureRegistered is a per-fd cache over ioloop.Loop.RegisterFD, which is
// itself idempotent (a second register on a tracked fd modifies rather than
// errors) — this map only spares the poller a redundant modify call on every
// retry of the same fd, it is not load-bearing for correctness.
func (h *Hooks) ensureRegistered(fd int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registered[fd] {
		return nil
	}
	err := h.Sched.Loop.RegisterFD(fd, ioloop.EventRead|ioloop.EventWrite, func(ev ioloop.IOEvents) {
		if ev&ioloop.EventRead != 0 {
			h.Sched.Wait.Wake(fd, waitregistry.Read)
		}
		if ev&ioloop.EventWrite != 0 {
			h.Sched.Wait.Wake(fd, waitregistry.Write)
		}
	})
	if err != nil {
		return err
	}
	h.registered[fd] = true
	return nil
}

// forget drops fd's bookkeeping, called from Close.
func (h *Hooks) forget(fd int) {
	h.mu.Lock()
	delete(h.registered, fd)
	delete(h.nonblock, fd)
	h.mu.Unlock()
}

// wait parks the calling coroutine until fd becomes ready in dir, or
// deadline elapses (the zero Time means wait indefinitely). It returns true
// if woken by readiness (or an explicit resume, e.g. shutdown draining the
// registry), false if the deadline elapsed first.
//
// When deadline is non-zero this arms two independent wake sources for the
// same suspension — the waitregistry registration and a scheduler timer —
// and relies on coroutine.Coroutine's epoch gating (see scheduler.WakeAt) to
// make whichever fires first win and the other a no-op.
func (h *Hooks) wait(sus *coroutine.Suspender, fd int, dir waitregistry.Direction, deadline time.Time) bool {
	co := sus.Coroutine()
	epoch := co.Epoch()

	cancel := h.Sched.Wait.Register(fd, dir, &waitregistry.Waiter{
		CoroutineID: co.ID(),
		Wake:        func(woken bool) { h.Sched.WakeAt(co, epoch, woken) },
	})
	defer cancel()

	if deadline.IsZero() {
		sus.Suspend()
		return true
	}

	co.SetExternalWake(true)
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	_ = h.Sched.Loop.ScheduleTimer(delay, func() {
		h.Sched.WakeAt(co, epoch, false)
	})
	return sus.SuspendUntil(deadline)
}

// Read behaves like a raw read(2)/ReadFile, except that if sus is non-nil
// and the fd would block, it suspends the calling coroutine until the fd is
// readable (or deadline elapses, if non-zero) instead of blocking the OS
// thread.
func (h *Hooks) Read(sus *coroutine.Suspender, fd int, buf []byte, deadline time.Time) (int, error) {
	if sus == nil {
		return rawRead(fd, buf)
	}
	if err := h.ensureNonBlocking(fd); err != nil {
		return -1, err
	}
	if err := h.ensureRegistered(fd); err != nil {
		return -1, err
	}
	for {
		n, err := rawRead(fd, buf)
		if err == nil || !isAgain(err) {
			return n, err
		}
		if !h.wait(sus, fd, waitregistry.Read, deadline) {
			return -1, ErrTimeout
		}
	}
}

// Write is Read's write-side counterpart.
func (h *Hooks) Write(sus *coroutine.Suspender, fd int, buf []byte, deadline time.Time) (int, error) {
	if sus == nil {
		return rawWrite(fd, buf)
	}
	if err := h.ensureNonBlocking(fd); err != nil {
		return -1, err
	}
	if err := h.ensureRegistered(fd); err != nil {
		return -1, err
	}
	for {
		n, err := rawWrite(fd, buf)
		if err == nil || !isAgain(err) {
			return n, err
		}
		if !h.wait(sus, fd, waitregistry.Write, deadline) {
			return -1, ErrTimeout
		}
	}
}

// Accept behaves like a raw accept(2), suspending the calling coroutine
// while the listening socket has no pending connection.
func (h *Hooks) Accept(sus *coroutine.Suspender, fd int, deadline time.Time) (int, RawSockaddr, error) {
	if sus == nil {
		return rawAccept(fd)
	}
	if err := h.ensureNonBlocking(fd); err != nil {
		return -1, nil, err
	}
	if err := h.ensureRegistered(fd); err != nil {
		return -1, nil, err
	}
	for {
		nfd, sa, err := rawAccept(fd)
		if err == nil || !isAgain(err) {
			return nfd, sa, err
		}
		if !h.wait(sus, fd, waitregistry.Read, deadline) {
			return -1, nil, ErrTimeout
		}
	}
}

// Connect behaves like a raw connect(2): it initiates a non-blocking
// connect, then (if sus is non-nil) suspends until the fd is writable and
// reports the connection's final outcome.
func (h *Hooks) Connect(sus *coroutine.Suspender, fd int, sa RawSockaddr, deadline time.Time) error {
	if sus == nil {
		return rawConnect(fd, sa)
	}
	if err := h.ensureNonBlocking(fd); err != nil {
		return err
	}
	if err := h.ensureRegistered(fd); err != nil {
		return err
	}
	err := rawConnect(fd, sa)
	if err == nil {
		return nil
	}
	if !isInProgress(err) {
		return err
	}
	if !h.wait(sus, fd, waitregistry.Write, deadline) {
		return ErrTimeout
	}
	return rawCheckConnectError(fd)
}

// Shutdown removes fd's waiters for the directions being shut down from the
// wait registry (waking them so they observe the resulting error on retry)
// and demotes the poller's interest in those directions before issuing the
// raw shutdown(2) call.
func (h *Hooks) Shutdown(fd int, how ShutdownHow) error {
	switch how {
	case ShutdownRead:
		h.Sched.Wait.Wake(fd, waitregistry.Read)
		_ = h.Sched.Loop.DelReadEvent(fd)
	case ShutdownWrite:
		h.Sched.Wait.Wake(fd, waitregistry.Write)
		_ = h.Sched.Loop.DelWriteEvent(fd)
	case ShutdownBoth:
		h.Sched.Wait.Wake(fd, waitregistry.Read)
		h.Sched.Wait.Wake(fd, waitregistry.Write)
		_ = h.Sched.Loop.DelEvent(fd)
	default:
		return ErrInvalidArgument
	}
	return rawShutdown(fd, how)
}

// Close drops fd's waiters and bookkeeping, unregisters it from the
// worker's loop, and closes it.
func (h *Hooks) Close(fd int) error {
	h.Sched.Wait.Drop(fd)
	_ = h.Sched.Loop.UnregisterFD(fd)
	h.forget(fd)
	return rawClose(fd)
}

// NanoSleep suspends the calling coroutine for dur, or (if sus is nil)
// performs a raw monotonic sleep. It returns the time remaining if woken
// early by an explicit resume rather than the deadline elapsing.
//
// The original implementation performs this in two phases (cooperative wait
// then a residual raw nanosleep) because its coroutines are not otherwise
// resumable mid-sleep. Here a plain deadline suspension already gets the
// scheduler's generic timer re-arm (scheduler.Scheduler.resume), so there is
// no second phase to implement — SuspendUntil covers both cases.
func (h *Hooks) NanoSleep(sus *coroutine.Suspender, dur time.Duration) (time.Duration, error) {
	if dur < 0 {
		return 0, ErrInvalidArgument
	}
	if sus == nil {
		time.Sleep(dur)
		return 0, nil
	}
	deadline := time.Now().Add(dur)
	if sus.SuspendUntil(deadline) {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		return remaining, nil
	}
	return 0, nil
}

// Sleep is NanoSleep, discarding the remaining-time result.
func (h *Hooks) Sleep(sus *coroutine.Suspender, d time.Duration) {
	_, _ = h.NanoSleep(sus, d)
}

// USleep is NanoSleep taking microseconds, matching the original's usleep.
func (h *Hooks) USleep(sus *coroutine.Suspender, usec int64) error {
	if usec < 0 {
		return ErrInvalidArgument
	}
	_, err := h.NanoSleep(sus, time.Duration(usec)*time.Microsecond)
	return err
}

// Poll behaves like a raw poll(2) across fds, suspending the calling
// coroutine (parking on every fd named in fds, for the directions its
// Events bitmask names) until at least one is ready or timeout elapses.
// A negative timeout waits indefinitely.
func (h *Hooks) Poll(sus *coroutine.Suspender, fds []PollFD, timeout time.Duration) (int, error) {
	if sus == nil {
		return rawPoll(fds, timeout)
	}
	var deadline time.Time
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for _, fd := range fds {
		if err := h.ensureRegistered(fd.Fd); err != nil {
			return -1, err
		}
	}
	for {
		n, err := rawPoll(fds, 0)
		if err != nil || n > 0 {
			return n, err
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return 0, nil
		}
		if !h.waitAny(sus, fds, deadline, hasDeadline) {
			return 0, nil
		}
	}
}

// Select offers the original's select(2)-flavoured entry point in terms of
// Poll, translating two fd sets (read and write) into a PollFD slice. It returns the
// number of fds with at least one requested event ready.
func (h *Hooks) Select(sus *coroutine.Suspender, readFDs, writeFDs []int, timeout time.Duration) (int, error) {
	fds := make([]PollFD, 0, len(readFDs)+len(writeFDs))
	index := make(map[int]int, len(fds))
	add := func(fd int, events int16) {
		if i, ok := index[fd]; ok {
			fds[i].Events |= events
			return
		}
		index[fd] = len(fds)
		fds = append(fds, PollFD{Fd: fd, Events: events})
	}
	for _, fd := range readFDs {
		add(fd, pollIn)
	}
	for _, fd := range writeFDs {
		add(fd, pollOut)
	}
	return h.Poll(sus, fds, timeout)
}

func (h *Hooks) waitAny(sus *coroutine.Suspender, fds []PollFD, deadline time.Time, hasDeadline bool) bool {
	co := sus.Coroutine()
	epoch := co.Epoch()
	co.SetExternalWake(true)

	var cancels []func()
	wake := func(woken bool) { h.Sched.WakeAt(co, epoch, woken) }
	for _, pfd := range fds {
		if pfd.Events&pollIn != 0 {
			cancels = append(cancels, h.Sched.Wait.Register(pfd.Fd, waitregistry.Read, &waitregistry.Waiter{
				CoroutineID: co.ID(),
				Wake:        wake,
			}))
		}
		if pfd.Events&pollOut != 0 {
			cancels = append(cancels, h.Sched.Wait.Register(pfd.Fd, waitregistry.Write, &waitregistry.Waiter{
				CoroutineID: co.ID(),
				Wake:        wake,
			}))
		}
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	if !hasDeadline {
		sus.Suspend()
		return true
	}

	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	_ = h.Sched.Loop.ScheduleTimer(delay, func() {
		h.Sched.WakeAt(co, epoch, false)
	})
	return sus.SuspendUntil(deadline)
}
