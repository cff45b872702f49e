package coroutine

import "time"

// Suspender is passed to a coroutine's Func and is the only way to yield
// control back to the scheduler. It is scoped to a single run of the
// coroutine's body (the same Suspender serves every Resume of that run) and
// must not be retained or used from a goroutine other than the coroutine's
// own body.
type Suspender struct {
	co *Coroutine
}

// Suspend yields the run token until something else resumes this coroutine
// (e.g. a pool assigning it a task, or a wait-registry wake). There is no
// deadline; the caller is responsible for eventually resuming it.
func (s *Suspender) Suspend() {
	s.co.suspend(time.Time{})
}

// SuspendUntil yields the run token until either woken by an explicit
// resume or the deadline elapses. Returns true if woken by an event, false
// if the deadline elapsed first.
func (s *Suspender) SuspendUntil(deadline time.Time) bool {
	return s.co.suspend(deadline)
}

// Coroutine returns the Coroutine this Suspender is scoped to, for callers
// that need the id for logging or wait-registry registration.
func (s *Suspender) Coroutine() *Coroutine { return s.co }
