package niocoro

import (
	"fmt"
	"syscall"
)

// Sentinel errors of the niocoro package. Matching
// github.com/joeycumines/niocoro/ioloop's errors.go cause-chain
// convention: wrap with fmt.Errorf's %w (or WrapError below), never swallow
// the underlying cause.
var (
	// ErrAlreadyInitialized is returned by Init when called more than once
	// against the process-wide Default runtime.
	ErrAlreadyInitialized = fmt.Errorf("niocoro: already initialized")
	// ErrNotInitialized is returned by Default before Init has run.
	ErrNotInitialized = fmt.Errorf("niocoro: not initialized")
	// ErrResourceExhausted names a worker-pool or resource limit being
	// reached. No function in this module returns it: pool.Submit queues a
	// task once Max workers exist instead of failing.
	ErrResourceExhausted = fmt.Errorf("niocoro: resource exhausted")
	// ErrInterrupted names a blocking hook call unblocked by something
	// other than data readiness or its own deadline. No function in this
	// module returns it.
	ErrInterrupted = fmt.Errorf("niocoro: interrupted")
	// ErrTimeout names a deadline elapsing before an operation completes.
	// No function in this module returns it; hook calls report an elapsed
	// deadline as hook.ErrTimeout.
	ErrTimeout = fmt.Errorf("niocoro: timeout")
	// ErrCancelled names a JoinHandle whose coroutine was cancelled before
	// producing a result. No function in this module returns it.
	ErrCancelled = fmt.Errorf("niocoro: cancelled")
	// ErrInvalidArgument is returned for caller-supplied arguments that
	// fail validation (e.g. a negative worker count).
	ErrInvalidArgument = fmt.Errorf("niocoro: invalid argument")
)

// PlatformError wraps a raw syscall errno, preserving it for errors.Is /
// errors.As against syscall.Errno values while attaching the failing
// operation's name. Grounded on eventloop/errors.go's TypeError/RangeError/
// TimeoutError shape: a concrete struct with a Cause/Errno field and an
// Unwrap method, rather than a bare fmt.Errorf("%w", ...).
type PlatformError struct {
	Op    string
	Errno syscall.Errno
}

// Error implements the error interface.
func (e *PlatformError) Error() string {
	return fmt.Sprintf("niocoro: %s: %s", e.Op, e.Errno.Error())
}

// Unwrap exposes the underlying errno for errors.Is(err, syscall.EAGAIN)
// and similar.
func (e *PlatformError) Unwrap() error {
	return e.Errno
}

// WrapError wraps cause with an additional message, preserving it in the
// cause chain (errors.Is(result, cause) == true). Mirrors ioloop's
// WrapError helper.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
