package ioloop

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, func()) {
	t.Helper()
	l, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = l.Run(ctx)
	}()

	// Give Run a moment to reach StateRunning before the test submits work.
	time.Sleep(10 * time.Millisecond)

	return l, func() {
		cancel()
		<-runDone
	}
}

func TestLoop_SubmitRunsTaskOnLoopGoroutine(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	done := make(chan struct{})
	if err := l.Submit(Task{Runnable: func() { close(done) }}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted task never ran")
	}
}

func TestLoop_SubmitInternalRunsBeforeExternal(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	var order []int
	done := make(chan struct{})

	// SubmitInternal goes to the priority queue, which tick() drains before
	// the external queue on every pass.
	_ = l.SubmitInternal(Task{Runnable: func() { order = append(order, 1) }})
	_ = l.Submit(Task{Runnable: func() {
		order = append(order, 2)
		close(done)
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never completed")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected internal task before external, got %v", order)
	}
}

func TestLoop_ScheduleTimerFiresAfterDelay(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	start := time.Now()
	fired := make(chan time.Time, 1)
	if err := l.ScheduleTimer(30*time.Millisecond, func() {
		fired <- time.Now()
	}); err != nil {
		t.Fatalf("ScheduleTimer failed: %v", err)
	}

	select {
	case at := <-fired:
		if at.Sub(start) < 30*time.Millisecond {
			t.Fatalf("timer fired early: %s after schedule", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoop_ScheduleReadyRunsBeforeNextTickIOPoll(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	done := make(chan struct{})
	if err := l.ScheduleReady(func() { close(done) }); err != nil {
		t.Fatalf("ScheduleReady failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback never ran")
	}
}

func TestLoop_SubmitAfterShutdownIsRejected(t *testing.T) {
	l, stop := startLoop(t)
	stop()

	if err := l.Shutdown(context.Background()); err != nil && err != ErrLoopTerminated {
		t.Fatalf("Shutdown returned unexpected error: %v", err)
	}

	if err := l.Submit(Task{Runnable: func() {}}); err == nil {
		t.Fatal("expected Submit to reject tasks on a terminated loop")
	}
}

func TestLoop_ConcurrentSubmitIsSafe(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	const n = 500
	var completed atomic.Int64
	allDone := make(chan struct{})

	go func() {
		for completed.Load() < n {
			time.Sleep(time.Millisecond)
		}
		close(allDone)
	}()

	for i := 0; i < n; i++ {
		go func() {
			_ = l.Submit(Task{Runnable: func() { completed.Add(1) }})
		}()
	}

	select {
	case <-allDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d/%d submitted tasks completed", completed.Load(), n)
	}
}

func TestLoop_ReentrantRunIsRejected(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	errCh := make(chan error, 1)
	done := make(chan struct{})
	_ = l.Submit(Task{Runnable: func() {
		errCh <- l.Run(context.Background())
		close(done)
	}})

	select {
	case err := <-errCh:
		if err != ErrReentrantRun {
			t.Fatalf("expected ErrReentrantRun, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Run never returned")
	}
	<-done
}

func TestLoop_StateTransitionsAwakeToRunningToTerminated(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if l.State() != StateAwake {
		t.Fatalf("expected StateAwake before Run, got %s", l.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = l.Run(ctx)
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	<-runDone

	if l.State() != StateTerminated {
		t.Fatalf("expected StateTerminated after shutdown, got %s", l.State())
	}
}

func TestLoop_RegisterFDTwiceModifiesInsteadOfErroring(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	defer r.Close()
	defer w.Close()
	fd := int(r.Fd())

	if err := l.RegisterFD(fd, EventRead, func(IOEvents) {}); err != nil {
		t.Fatalf("initial RegisterFD failed: %v", err)
	}
	defer l.UnregisterFD(fd)

	// A second RegisterFD on the same fd must widen/replace interest via a
	// modify, not fail with an "already registered" error.
	if err := l.RegisterFD(fd, EventRead|EventWrite, func(IOEvents) {}); err != nil {
		t.Fatalf("second RegisterFD should modify, got error: %v", err)
	}
}

func TestLoop_UnregisterFDToleratesAbsentFDDuringShutdown(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = l.Run(ctx)
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	<-runDone

	if l.State() != StateTerminated {
		t.Fatalf("expected StateTerminated, got %s", l.State())
	}

	// fd 999 was never registered; outside shutdown this is a caller error,
	// but once terminated it must be tolerated rather than returned.
	if err := l.UnregisterFD(999); err != nil {
		t.Fatalf("expected nil error for absent fd during shutdown, got %v", err)
	}
}

func TestLoop_UnregisterFDReportsAbsentFDOutsideShutdown(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	if err := l.UnregisterFD(999); err != ErrFDNotRegistered {
		t.Fatalf("expected ErrFDNotRegistered outside shutdown, got %v", err)
	}
}

func TestLoop_DelReadWriteEventNarrowInterest(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	defer r.Close()
	defer w.Close()
	fd := int(r.Fd())

	if err := l.RegisterFD(fd, EventRead|EventWrite, func(IOEvents) {}); err != nil {
		t.Fatalf("RegisterFD failed: %v", err)
	}

	if err := l.DelWriteEvent(fd); err != nil {
		t.Fatalf("DelWriteEvent failed: %v", err)
	}
	if err := l.DelReadEvent(fd); err != nil {
		t.Fatalf("DelReadEvent failed: %v", err)
	}

	// both directions are gone now, so the poller already dropped the fd;
	// DelEvent is UnregisterFD, which reports an absent fd outside shutdown.
	if err := l.DelEvent(fd); err != ErrFDNotRegistered {
		t.Fatalf("expected ErrFDNotRegistered after DelWriteEvent+DelReadEvent, got %v", err)
	}
}

func TestLoop_DelEventDropsAllInterest(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	defer r.Close()
	defer w.Close()
	fd := int(r.Fd())

	if err := l.RegisterFD(fd, EventRead|EventWrite, func(IOEvents) {}); err != nil {
		t.Fatalf("RegisterFD failed: %v", err)
	}
	if err := l.DelEvent(fd); err != nil {
		t.Fatalf("DelEvent failed: %v", err)
	}
	if err := l.UnregisterFD(fd); err != ErrFDNotRegistered {
		t.Fatalf("expected fd to already be gone after DelEvent, got %v", err)
	}
}

func TestLoop_RunForReturnsToAwakeAfterBudgetExpires(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer l.Shutdown(context.Background())

	start := time.Now()
	if err := l.RunFor(30 * time.Millisecond); err != nil {
		t.Fatalf("RunFor failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("RunFor returned before its budget elapsed: %s", elapsed)
	}
	if l.State() != StateAwake {
		t.Fatalf("expected StateAwake after RunFor, got %s", l.State())
	}

	// the loop must still be drivable after a budget expires.
	done := make(chan struct{})
	if err := l.Submit(Task{Runnable: func() { close(done) }}); err != nil {
		t.Fatalf("Submit after RunFor failed: %v", err)
	}
	if err := l.RunFor(100 * time.Millisecond); err != nil {
		t.Fatalf("second RunFor failed: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("task submitted before RunFor was not executed")
	}
}
