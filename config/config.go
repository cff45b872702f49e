// Package config resolves process-wide runtime configuration for niocoro
// from environment variables, in the teacher's functional-option style
// (github.com/joeycumines/niocoro/ioloop's options.go): an unexported
// options struct, an Option interface backed by a closure-holding impl
// type, and a resolve function that applies defaults then options in
// order.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is the resolved, immutable runtime configuration consumed by
// niocoro.Init.
type Config struct {
	// Workers is the number of worker scheduler+loop pairs to start.
	Workers int
	// StackSizeHint is carried through to pool.Config.StackSizeHint.
	StackSizeHint int
	// MonitorCPU, if true, pins the monitor's own goroutine to an OS
	// thread via runtime.LockOSThread (monitor.Monitor.run already does
	// this unconditionally; this flag is reserved for a future opt-out).
	MonitorCPU bool
	// PreemptInterval is the monitor's deadline-check granularity. Zero
	// disables preemption (the monitor is never started).
	PreemptInterval time.Duration
	// PoolMin, PoolMax, PoolKeepAlive configure the worker-pool layer
	// sitting on top of each worker's scheduler (pool.Config).
	PoolMin       int
	PoolMax       int
	PoolKeepAlive time.Duration
}

// Option configures a Config during FromEnv.
type Option interface {
	apply(*Config) error
}

type optionFunc struct {
	fn func(*Config) error
}

func (o *optionFunc) apply(cfg *Config) error { return o.fn(cfg) }

// WithWorkers overrides the worker count.
func WithWorkers(n int) Option {
	return &optionFunc{func(cfg *Config) error {
		if n <= 0 {
			return fmt.Errorf("config: WithWorkers: %d must be positive", n)
		}
		cfg.Workers = n
		return nil
	}}
}

// WithStackSizeHint overrides the advisory coroutine stack size hint.
func WithStackSizeHint(bytes int) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.StackSizeHint = bytes
		return nil
	}}
}

// WithPreemptInterval overrides the monitor's preemption check interval.
// Zero disables preemption entirely.
func WithPreemptInterval(d time.Duration) Option {
	return &optionFunc{func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("config: WithPreemptInterval: %s must not be negative", d)
		}
		cfg.PreemptInterval = d
		return nil
	}}
}

// WithPool overrides the worker-pool's min/max size and idle keep-alive.
func WithPool(min, max int, keepAlive time.Duration) Option {
	return &optionFunc{func(cfg *Config) error {
		if min < 0 || max < 0 {
			return fmt.Errorf("config: WithPool: min=%d max=%d must not be negative", min, max)
		}
		if max > 0 && min > max {
			return fmt.Errorf("config: WithPool: min=%d exceeds max=%d", min, max)
		}
		cfg.PoolMin, cfg.PoolMax, cfg.PoolKeepAlive = min, max, keepAlive
		return nil
	}}
}

// defaults returns the built-in baseline before environment variables or
// explicit Options are applied: one worker per GOMAXPROCS, no stack size
// hint, a 10ms preemption slice, and a pool sized 0..Workers with no
// keep-alive reaper (idle workers live forever unless KeepAlive>0).
func defaults() Config {
	workers := runtime.GOMAXPROCS(0)
	return Config{
		Workers:         workers,
		PreemptInterval: 10 * time.Millisecond,
		PoolMin:         0,
		PoolMax:         workers,
		PoolKeepAlive:   0,
	}
}

// env var names, unchanged from spec.md's preload-era keys.
const (
	envWorkers       = "COROUTINE_WORKERS"
	envStackSize     = "COROUTINE_STACK_SIZE"
	envMonitorCPU    = "COROUTINE_MONITOR_CPU"
	envPreemptMS     = "COROUTINE_PREEMPT_MS"
	envPoolMin       = "COROUTINE_POOL_MIN"
	envPoolMax       = "COROUTINE_POOL_MAX"
	envPoolKeepAlive = "COROUTINE_POOL_KEEP_ALIVE_NS"
)

func parseIntEnv(name string) (int, bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("config: %s=%q: %w", name, v, err)
	}
	return n, true, nil
}

func parseBoolEnv(name string) (bool, bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("config: %s=%q: %w", name, v, err)
	}
	return b, true, nil
}

// fromEnvOptions translates the COROUTINE_* environment variables into
// Options, applied after defaults() and before any caller-supplied
// Options, so Options passed to FromEnv always win over the environment.
func fromEnvOptions() ([]Option, error) {
	var opts []Option

	if n, ok, err := parseIntEnv(envWorkers); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithWorkers(n))
	}

	if n, ok, err := parseIntEnv(envStackSize); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithStackSizeHint(n))
	}

	if _, ok, err := parseBoolEnv(envMonitorCPU); err != nil {
		return nil, err
	} else if ok {
		// Reserved: monitor.Monitor always pins its own goroutine today;
		// the flag is accepted (and validated) for forward compatibility
		// but does not yet change behavior.
	}

	if ms, ok, err := parseIntEnv(envPreemptMS); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithPreemptInterval(time.Duration(ms)*time.Millisecond))
	}

	min, hasMin, err := parseIntEnv(envPoolMin)
	if err != nil {
		return nil, err
	}
	max, hasMax, err := parseIntEnv(envPoolMax)
	if err != nil {
		return nil, err
	}
	keepAliveNS, hasKeepAlive, err := parseIntEnv(envPoolKeepAlive)
	if err != nil {
		return nil, err
	}
	if hasMin || hasMax || hasKeepAlive {
		d := defaults()
		if hasMin {
			d.PoolMin = min
		}
		if hasMax {
			d.PoolMax = max
		} else {
			d.PoolMax = d.Workers
		}
		keepAlive := time.Duration(0)
		if hasKeepAlive {
			keepAlive = time.Duration(keepAliveNS)
		}
		opts = append(opts, WithPool(d.PoolMin, d.PoolMax, keepAlive))
	}

	return opts, nil
}

// FromEnv resolves a Config starting from defaults(), layering the
// COROUTINE_* environment variables, then opts (which always take
// precedence over the environment).
func FromEnv(opts ...Option) (Config, error) {
	cfg := defaults()

	envOpts, err := fromEnvOptions()
	if err != nil {
		return Config{}, err
	}
	for _, opt := range envOpts {
		if err := opt.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
