package niocoro_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro"
	"github.com/joeycumines/niocoro/config"
	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/hook"
)

func TestNew_GoRunsACoroutineToCompletion(t *testing.T) {
	cfg, err := config.FromEnv(config.WithWorkers(2), config.WithPreemptInterval(0))
	require.NoError(t, err)

	rt, err := niocoro.New(cfg)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	h := rt.Go(func(sus *coroutine.Suspender, hooks *hook.Hooks) (any, error) {
		return 42, nil
	})

	got, err := h.Join(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestNew_SubmitRunsOnPool(t *testing.T) {
	cfg, err := config.FromEnv(config.WithWorkers(1), config.WithPreemptInterval(0))
	require.NoError(t, err)

	rt, err := niocoro.New(cfg)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	h := rt.Submit(func() (any, error) {
		return "done", nil
	})

	got, err, ok := h.TimeoutJoin(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "done", got)
}

func TestNew_RejectsNonPositiveWorkers(t *testing.T) {
	_, err := niocoro.New(config.Config{Workers: 0})
	require.Error(t, err)
}

func TestInit_SecondCallIsAlreadyInitialized(t *testing.T) {
	cfg, err := config.FromEnv(config.WithWorkers(1))
	require.NoError(t, err)

	rt, err := niocoro.Init(cfg)
	if err != nil {
		// Another test in this package may have already called Init; that's
		// fine, this test only needs to observe the idempotency guard.
		require.ErrorIs(t, err, niocoro.ErrAlreadyInitialized)
		return
	}
	defer rt.Shutdown(context.Background())

	_, err = niocoro.Init(cfg)
	require.ErrorIs(t, err, niocoro.ErrAlreadyInitialized)
}

func TestCapabilities_ReportsAKernelVersion(t *testing.T) {
	caps, err := niocoro.Capabilities()
	require.NoError(t, err)
	require.NotEmpty(t, caps.KernelVersion)
}
