// Package monitor implements cooperative soft preemption of long-running
// coroutines.
//
// Go's own runtime has, since 1.14, repurposed SIGURG for asynchronous
// goroutine preemption (see runtime/preempt.go's "async preemption" and
// runtime/signal_unix.go's sigPreempt handler) — a second, independent
// SIGURG handler cannot be installed alongside it without racing the
// runtime's own signal delivery. Monitor therefore does not send any signal.
// It tracks, per in-flight coroutine resume, a deadline (resume time plus a
// time slice); if that deadline elapses while the coroutine's scheduler
// state is still Running, it calls runtime.Gosched() on its own
// OS-thread-pinned goroutine and logs a preemption event. Combined with the
// Go runtime's own async preemption of genuinely tight loops, this
// reproduces open-coroutine's time-slice monitoring without a second signal
// handler; see SPEC_FULL.md §0 note 3.
//
// Grounded on github.com/joeycumines/niocoro/ioloop's own timer heap
// (container/heap over a slice of deadline-ordered entries, loop.go) and on
// open-coroutine-core/src/monitor/mod.rs's submit/remove-with-deferred-
// cleanup-queue shape. Preemption-attempt throttling uses
// github.com/joeycumines/go-catrate, the same sliding-window limiter used
// elsewhere in the joeycumines stack for per-category rate limiting.
package monitor

import (
	"container/heap"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro/internal/rtlog"
)

// Trackable is the subset of *coroutine.Coroutine the monitor needs: just
// enough to observe whether it is still Running by the time its slice
// elapses. Defined as an interface so tests can substitute a fake without
// spinning up a real coroutine goroutine.
type Trackable interface {
	ID() uint64
	State() coroutine.State
}

type entry struct {
	deadline time.Time
	workerID int
	co       Trackable
	removed  atomic.Bool
	index    int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Preempted is invoked (from the monitor goroutine) whenever a coroutine is
// found still Running past its slice deadline. The default implementation
// only logs; WorkerPreempt lets a runtime wire in an actual cross-thread
// nudge (e.g. writing to the worker's wakeup pipe) if it has one.
type Preempted func(workerID int, coroutineID uint64)

// Monitor tracks coroutine resumes against a soft time-slice deadline and
// flags ones that overrun it. There is normally exactly one, reached via
// Default; Go tests construct their own with New for isolation.
type Monitor struct {
	slice   time.Duration
	limiter *catrate.Limiter

	disabled bool

	mu      sync.Mutex
	heap    entryHeap
	byKey   map[key]*entry
	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	onPreempt Preempted
}

type key struct {
	co Trackable
}

// Config configures a Monitor.
type Config struct {
	// Disabled, if true, makes Track/Untrack no-ops and the monitor
	// goroutine is never started — preemption is off entirely (e.g.
	// COROUTINE_PREEMPT_MS=0).
	Disabled bool
	// Slice is the soft time budget given to a single Resume call before the
	// monitor considers it for preemption. Zero selects a 10ms default,
	// matching open-coroutine's default slice.
	Slice time.Duration
	// PreemptInterval bounds how often the monitor will attempt to preempt
	// the *same* coroutine; it is passed to catrate as the sole rate. Zero
	// selects Slice/2.
	PreemptInterval time.Duration
	// OnPreempt, if non-nil, is called in addition to the monitor's own
	// logging whenever a coroutine is preempted.
	OnPreempt Preempted
}

// New constructs an independent Monitor; most callers want Default instead.
func New(cfg Config) *Monitor {
	if cfg.Disabled {
		return &Monitor{disabled: true}
	}
	slice := cfg.Slice
	if slice <= 0 {
		slice = 10 * time.Millisecond
	}
	interval := cfg.PreemptInterval
	if interval <= 0 {
		interval = slice / 2
		if interval <= 0 {
			interval = time.Millisecond
		}
	}
	return &Monitor{
		slice:     slice,
		limiter:   catrate.NewLimiter(map[time.Duration]int{interval: 1}),
		byKey:     make(map[key]*entry),
		onPreempt: cfg.OnPreempt,
	}
}

var (
	defaultMu      sync.RWMutex
	defaultMonitor = New(Config{})
)

// Default returns the process-wide Monitor, lazily starting its background
// goroutine on first use (mirroring catrate.Limiter's own lazy worker
// start).
func Default() *Monitor {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultMonitor
}

// SetDefault replaces the process-wide Monitor returned by Default,
// stopping the previous one first. niocoro.Init uses this to apply the
// resolved config.Config's PreemptInterval/Disabled before any worker
// starts resuming coroutines.
func SetDefault(m *Monitor) {
	defaultMu.Lock()
	prev := defaultMonitor
	defaultMonitor = m
	defaultMu.Unlock()
	prev.Stop()
}

// Track registers co as having just started (or resumed) running on the
// given worker, with a deadline of now+slice. Call it immediately before
// co.Resume.
func (m *Monitor) Track(workerID int, co Trackable) {
	if m.disabled {
		return
	}
	m.ensureStarted()

	e := &entry{
		deadline: time.Now().Add(m.slice),
		workerID: workerID,
		co:       co,
	}

	m.mu.Lock()
	m.byKey[key{co}] = e
	heap.Push(&m.heap, e)
	m.mu.Unlock()
}

// Untrack marks co's tracked entry as no longer needing monitoring. Call it
// immediately after co.Resume returns (normal completion or suspension).
// Untrack does not synchronously remove the heap entry — it only flags it,
// so the call never blocks on the monitor goroutine's lock; the monitor
// goroutine skips flagged entries as it drains them.
func (m *Monitor) Untrack(co Trackable) {
	if m.disabled {
		return
	}
	m.mu.Lock()
	e, ok := m.byKey[key{co}]
	if ok {
		delete(m.byKey, key{co})
	}
	m.mu.Unlock()
	if ok {
		e.removed.Store(true)
	}
}

func (m *Monitor) ensureStarted() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()
}

// Stop halts the monitor goroutine. It blocks until the goroutine has
// exited. A stopped Monitor may be restarted by calling Track again.
func (m *Monitor) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
		m.tick()
	}
}

func (m *Monitor) tick() {
	now := time.Now()
	for {
		m.mu.Lock()
		if m.heap.Len() == 0 {
			m.mu.Unlock()
			return
		}
		e := m.heap[0]
		if e.removed.Load() {
			heap.Pop(&m.heap)
			m.mu.Unlock()
			continue
		}
		if e.deadline.After(now) {
			m.mu.Unlock()
			return
		}
		heap.Pop(&m.heap)
		delete(m.byKey, key{e.co})
		m.mu.Unlock()

		m.consider(e)
	}
}

func (m *Monitor) consider(e *entry) {
	if e.co.State() != coroutine.Running {
		// It finished or suspended before the deadline check ran. Hook
		// waits park the coroutine via Suspend/SuspendUntil, so a coroutine
		// waiting on an fd is never Running here.
		return
	}
	if _, ok := m.limiter.Allow(e.co.ID()); !ok {
		return
	}

	runtime.Gosched()

	rtlog.Warn("coroutine preempted", rtlog.Fields{
		"worker_id":    e.workerID,
		"coroutine_id": e.co.ID(),
		"slice":        m.slice.String(),
	})
	if m.onPreempt != nil {
		m.onPreempt(e.workerID, e.co.ID())
	}
}
