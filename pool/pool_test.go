package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/pool"
	"github.com/joeycumines/niocoro/scheduler"
)

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, func()) {
	t.Helper()
	loop, err := ioloop.New()
	require.NoError(t, err)

	sched := scheduler.New(loop, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = sched.Drive(ctx)
	}()

	return sched, func() {
		cancel()
		<-runDone
	}
}

func TestPool_SubmitJoinHandleRoundTrip(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	p := pool.New(sched, pool.SleepBlocker{}, pool.Config{Min: 1, Max: 2})
	defer p.Close()

	h := pool.Submit(p, func(sus *coroutine.Suspender) (int, error) {
		return 21 * 2, nil
	})

	got, err, ok := h.TimeoutJoin(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, got)
}

func TestPool_ReusesIdleWorkerRatherThanSpawning(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	p := pool.New(sched, pool.SleepBlocker{}, pool.Config{Min: 1, Max: 4})
	defer p.Close()

	h1 := pool.Submit(p, func(sus *coroutine.Suspender) (int, error) {
		return 1, nil
	})
	_, err, ok := h1.TimeoutJoin(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// give the worker a moment to loop back around to an idle Suspend
	time.Sleep(20 * time.Millisecond)

	h2 := pool.Submit(p, func(sus *coroutine.Suspender) (int, error) {
		return 2, nil
	})
	got, err, ok := h2.TimeoutJoin(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got)
	require.Equal(t, 1, p.Count())
}

func TestPool_MaxEnforcementQueuesPending(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	p := pool.New(sched, pool.SleepBlocker{}, pool.Config{Min: 0, Max: 1})
	defer p.Close()

	block := make(chan struct{})
	h1 := pool.Submit(p, func(sus *coroutine.Suspender) (int, error) {
		<-block
		return 1, nil
	})

	// the second task can't start on a new worker (Max=1 already in use) and
	// must queue behind the first until it completes.
	h2 := pool.Submit(p, func(sus *coroutine.Suspender) (int, error) {
		return 2, nil
	})

	close(block)

	got1, err, ok := h1.TimeoutJoin(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, got1)

	got2, err, ok := h2.TimeoutJoin(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got2)
}

func TestPool_ReaperRetiresIdleWorkersAboveMin(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	p := pool.New(sched, pool.SleepBlocker{}, pool.Config{
		Min:       1,
		Max:       4,
		Initial:   3,
		KeepAlive: 20 * time.Millisecond,
	})
	defer p.Close()

	// all three initial workers start idle (no tasks assigned); give the
	// reaper a few sweeps to retire the two above Min.
	require.Eventually(t, func() bool {
		return p.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
