package coroutine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/coroutine"
)

func TestCoroutine_RunToCompletion(t *testing.T) {
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		return 42, nil
	})
	require.Equal(t, coroutine.Ready, co.State())

	done := co.Resume(true)
	require.True(t, done)
	require.Equal(t, coroutine.Complete, co.State())

	result, err := co.Result()
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestCoroutine_SuspendThenResume(t *testing.T) {
	reached := false
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		s.Suspend()
		reached = true
		return nil, nil
	})

	done := co.Resume(true)
	require.False(t, done)
	require.Equal(t, coroutine.Suspended, co.State())
	require.False(t, reached)

	done = co.Resume(true)
	require.True(t, done)
	require.True(t, reached)
}

func TestCoroutine_SuspendUntil_ReportsWokenVsTimeout(t *testing.T) {
	var firstWoken, secondWoken bool
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		firstWoken = s.SuspendUntil(time.Now().Add(time.Hour))
		secondWoken = s.SuspendUntil(time.Now().Add(time.Hour))
		return nil, nil
	})

	co.Resume(true)
	co.Resume(false) // timeout for the first SuspendUntil
	require.False(t, firstWoken)

	done := co.Resume(true) // woken for the second
	require.True(t, done)
	require.True(t, secondWoken)
}

func TestCoroutine_Deadline(t *testing.T) {
	deadlineSeen := make(chan time.Time, 1)
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		s.SuspendUntil(time.Unix(0, 123456789))
		return nil, nil
	})
	go func() {
		co.Resume(true)
	}()
	// poll briefly for the suspend to land; avoids a sleep-based race.
	for i := 0; i < 1000; i++ {
		if dl, ok := co.Deadline(); ok {
			deadlineSeen <- dl
			break
		}
		time.Sleep(time.Microsecond)
	}
	select {
	case dl := <-deadlineSeen:
		require.Equal(t, int64(123456789), dl.UnixNano())
	case <-time.After(time.Second):
		t.Fatal("deadline was never observed")
	}
	co.Resume(false)
	<-co.Done()
}

func TestCoroutine_Cancel(t *testing.T) {
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		s.Suspend()
		t.Fatal("body should not resume past the cancellation point")
		return nil, nil
	})

	co.Resume(true)
	require.Equal(t, coroutine.Suspended, co.State())

	co.Cancel()
	done := co.Resume(true)
	require.True(t, done)
	require.Equal(t, coroutine.Cancelled, co.State())
}

func TestCoroutine_PanicRecovered(t *testing.T) {
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		panic(errors.New("boom"))
	})
	done := co.Resume(true)
	require.True(t, done)
	require.Equal(t, coroutine.Complete, co.State())
	_, err := co.Result()
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestCoroutine_ResumeAt_RejectsStaleEpoch(t *testing.T) {
	co := coroutine.New(func(s *coroutine.Suspender) (any, error) {
		s.Suspend()
		s.Suspend()
		return nil, nil
	})
	co.Resume(true)
	staleEpoch := co.Epoch()

	// A fresh resume (e.g. from a different wake source) advances state past
	// the captured epoch.
	co.Resume(true)

	done, ok := co.ResumeAt(staleEpoch, true)
	require.False(t, ok)
	require.False(t, done)

	// The coroutine is now Suspended again (its second Suspend call); a
	// correctly-addressed resume still works.
	done = co.Resume(true)
	require.True(t, done)
}
