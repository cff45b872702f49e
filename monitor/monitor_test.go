package monitor_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/monitor"
)

type fakeCo struct {
	id    uint64
	state atomic.Uint32
}

func (f *fakeCo) ID() uint64            { return f.id }
func (f *fakeCo) State() coroutine.State { return coroutine.State(f.state.Load()) }

func TestMonitor_PreemptsOnlyRunningPastSlice(t *testing.T) {
	var preempted []uint64
	var mu sync.Mutex
	m := monitor.New(monitor.Config{
		Slice: 5 * time.Millisecond,
		OnPreempt: func(workerID int, coroutineID uint64) {
			mu.Lock()
			preempted = append(preempted, coroutineID)
			mu.Unlock()
		},
	})
	defer m.Stop()

	stillRunning := &fakeCo{id: 1}
	stillRunning.state.Store(uint32(coroutine.Running))

	finishedQuickly := &fakeCo{id: 2}
	finishedQuickly.state.Store(uint32(coroutine.Running))

	m.Track(0, stillRunning)
	m.Track(0, finishedQuickly)

	finishedQuickly.state.Store(uint32(coroutine.Complete))
	m.Untrack(finishedQuickly)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range preempted {
			if id == 2 {
				return true // would be a bug: untracked coroutines must not be preempted
			}
		}
		return len(preempted) > 0
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, preempted, uint64(1))
	require.NotContains(t, preempted, uint64(2))
}

func TestMonitor_UntrackBeforeDeadlineSuppressesPreemption(t *testing.T) {
	var count atomic.Int32
	m := monitor.New(monitor.Config{
		Slice: 20 * time.Millisecond,
		OnPreempt: func(workerID int, coroutineID uint64) {
			count.Add(1)
		},
	})
	defer m.Stop()

	co := &fakeCo{id: 42}
	co.state.Store(uint32(coroutine.Running))
	m.Track(0, co)
	co.state.Store(uint32(coroutine.Complete))
	m.Untrack(co)

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(0), count.Load())
}
