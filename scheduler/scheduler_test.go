package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/ioloop"
	"github.com/joeycumines/niocoro/scheduler"
)

func newRunningScheduler(t *testing.T, onComplete func(*coroutine.Coroutine)) (*scheduler.Scheduler, func()) {
	t.Helper()
	loop, err := ioloop.New()
	require.NoError(t, err)

	sched := scheduler.New(loop, 0, onComplete)

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

func TestScheduler_GoRunsCoroutineToCompletion(t *testing.T) {
	completed := make(chan *coroutine.Coroutine, 1)
	sched, stop := newRunningScheduler(t, func(co *coroutine.Coroutine) { completed <- co })
	defer stop()

	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		return "ok", nil
	})

	select {
	case done := <-completed:
		require.Same(t, co, done)
	case <-time.After(2 * time.Second):
		t.Fatal("coroutine did not complete")
	}
	require.Equal(t, coroutine.Complete, co.State())
}

func TestScheduler_PlainSuspendWaitsForExplicitEnqueue(t *testing.T) {
	completed := make(chan *coroutine.Coroutine, 1)
	sched, stop := newRunningScheduler(t, func(co *coroutine.Coroutine) { completed <- co })
	defer stop()

	reachedSuspend := make(chan struct{})
	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		close(reachedSuspend)
		sus.Suspend()
		return nil, nil
	})

	<-reachedSuspend
	select {
	case <-completed:
		t.Fatal("coroutine completed before being explicitly resumed")
	case <-time.After(50 * time.Millisecond):
	}

	sched.Enqueue(co, true)

	select {
	case done := <-completed:
		require.Same(t, co, done)
	case <-time.After(2 * time.Second):
		t.Fatal("coroutine did not complete after Enqueue")
	}
}

func TestScheduler_SuspendUntilDeadlineAutoRearms(t *testing.T) {
	completed := make(chan *coroutine.Coroutine, 1)
	sched, stop := newRunningScheduler(t, func(co *coroutine.Coroutine) { completed <- co })
	defer stop()

	start := time.Now()
	var woken bool
	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		woken = sus.SuspendUntil(time.Now().Add(30 * time.Millisecond))
		return nil, nil
	})

	select {
	case done := <-completed:
		require.Same(t, co, done)
	case <-time.After(2 * time.Second):
		t.Fatal("coroutine did not complete after its own deadline")
	}

	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.False(t, woken)
}

func TestScheduler_RunBudgetCompletesCoroutineAndReturns(t *testing.T) {
	loop, err := ioloop.New()
	require.NoError(t, err)

	var completedCo *coroutine.Coroutine
	sched := scheduler.New(loop, 0, func(co *coroutine.Coroutine) { completedCo = co })

	var ran bool
	co := sched.Go(func(sus *coroutine.Suspender) (any, error) {
		ran = true
		return nil, nil
	})

	require.NoError(t, sched.Run(200*time.Millisecond))
	require.True(t, ran)
	require.Same(t, co, completedCo)

	// a budget-driven pass must leave the loop drivable again.
	var ranAgain bool
	sched.Go(func(sus *coroutine.Suspender) (any, error) {
		ranAgain = true
		return nil, nil
	})
	require.NoError(t, sched.Run(200*time.Millisecond))
	require.True(t, ranAgain)
}
