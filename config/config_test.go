package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/config"
)

func TestFromEnv_DefaultsWithNoEnvOrOptions(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.Greater(t, cfg.Workers, 0)
	require.Equal(t, 10*time.Millisecond, cfg.PreemptInterval)
	require.Equal(t, cfg.Workers, cfg.PoolMax)
}

func TestFromEnv_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("COROUTINE_WORKERS", "3")
	t.Setenv("COROUTINE_PREEMPT_MS", "5")
	t.Setenv("COROUTINE_POOL_MIN", "1")
	t.Setenv("COROUTINE_POOL_MAX", "3")
	t.Setenv("COROUTINE_POOL_KEEP_ALIVE_NS", "1000000")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, 5*time.Millisecond, cfg.PreemptInterval)
	require.Equal(t, 1, cfg.PoolMin)
	require.Equal(t, 3, cfg.PoolMax)
	require.Equal(t, time.Millisecond, cfg.PoolKeepAlive)
}

func TestFromEnv_ExplicitOptionsOverrideEnvironment(t *testing.T) {
	t.Setenv("COROUTINE_WORKERS", "3")

	cfg, err := config.FromEnv(config.WithWorkers(7))
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Workers)
}

func TestFromEnv_InvalidEnvironmentValueIsAnError(t *testing.T) {
	t.Setenv("COROUTINE_WORKERS", "not-a-number")

	_, err := config.FromEnv()
	require.Error(t, err)
}

func TestWithPool_RejectsMinExceedingMax(t *testing.T) {
	_, err := config.FromEnv(config.WithPool(5, 2, 0))
	require.Error(t, err)
}

func TestWithWorkers_RejectsNonPositive(t *testing.T) {
	_, err := config.FromEnv(config.WithWorkers(0))
	require.Error(t, err)
}
