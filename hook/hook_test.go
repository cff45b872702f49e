//go:build linux || darwin

package hook_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/hook"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/scheduler"
)

func newTestWorker(t *testing.T) (*scheduler.Scheduler, chan *coroutine.Coroutine, func()) {
	t.Helper()
	loop, err := ioloop.New()
	require.NoError(t, err)

	completed := make(chan *coroutine.Coroutine, 16)
	sched := scheduler.New(loop, 0, func(co *coroutine.Coroutine) {
		completed <- co
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = sched.Drive(ctx)
	}()

	return sched, completed, func() {
		cancel()
		<-runDone
	}
}

func TestHooks_Read_SuspendsUntilDataArrives(t *testing.T) {
	sched, completed, stop := newTestWorker(t)
	defer stop()
	h := hook.New(sched)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var gotN int
	var gotErr error
	buf := make([]byte, 5)

	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		gotN, gotErr = h.Read(sus, int(r.Fd()), buf, time.Time{})
		return nil, nil
	})

	// give the coroutine a chance to reach the read and suspend on EAGAIN
	time.Sleep(20 * time.Millisecond)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case done := <-completed:
		require.Same(t, co, done)
	case <-time.After(2 * time.Second):
		t.Fatal("coroutine did not complete after write")
	}

	require.NoError(t, gotErr)
	require.Equal(t, 5, gotN)
	require.Equal(t, "hello", string(buf[:gotN]))
}

func TestHooks_Read_TimesOutWithoutData(t *testing.T) {
	sched, completed, stop := newTestWorker(t)
	defer stop()
	h := hook.New(sched)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var gotErr error
	buf := make([]byte, 1)

	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		_, gotErr = h.Read(sus, int(r.Fd()), buf, time.Now().Add(30*time.Millisecond))
		return nil, nil
	})

	select {
	case done := <-completed:
		require.Same(t, co, done)
	case <-time.After(2 * time.Second):
		t.Fatal("coroutine did not complete after deadline")
	}

	require.ErrorIs(t, gotErr, hook.ErrTimeout)
}

func TestHooks_NanoSleep_WakesAtDeadline(t *testing.T) {
	sched, completed, stop := newTestWorker(t)
	defer stop()
	h := hook.New(sched)

	start := time.Now()
	var remaining time.Duration
	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		remaining, _ = h.NanoSleep(sus, 30*time.Millisecond)
		return nil, nil
	})

	select {
	case done := <-completed:
		require.Same(t, co, done)
	case <-time.After(2 * time.Second):
		t.Fatal("coroutine did not complete")
	}

	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Equal(t, time.Duration(0), remaining)
}

func TestHooks_Read_NilSuspenderIsRawPassthrough(t *testing.T) {
	sched, _, stop := newTestWorker(t)
	defer stop()
	h := hook.New(sched)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	n, err := h.Read(nil, int(r.Fd()), buf, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "x", string(buf))
}
