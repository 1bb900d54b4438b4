package mgr

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, check func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return check()
}

func TestWorkerMgrDelay(t *testing.T) {
	t.Parallel()

	m := New("DelayTest")

	value := atomic.Bool{}

	// Create a task that runs after half a second.
	m.NewWorkerMgr("test", func(w *WorkerCtx) error {
		value.Store(true)
		return nil
	}, nil).Delay(500 * time.Millisecond)

	// Must not have run right away.
	time.Sleep(100 * time.Millisecond)
	if value.Load() {
		t.Error("worker ran before the delay elapsed")
	}

	// Must run after the delay.
	if !waitFor(t, 3*time.Second, value.Load) {
		t.Error("worker did not run after the delay")
	}
}

func TestWorkerMgrRepeat(t *testing.T) {
	t.Parallel()

	m := New("RepeatTest")

	runs := atomic.Int32{}

	// Create a task that should repeat every 100 milliseconds.
	m.NewWorkerMgr("test", func(w *WorkerCtx) error {
		runs.Add(1)
		return nil
	}, nil).Repeat(100 * time.Millisecond)

	// Expect several runs within the window, but not a busy loop.
	time.Sleep(1200 * time.Millisecond)
	got := runs.Load()
	if got < 5 || got > 20 {
		t.Errorf("unexpected number of repeated runs: %d", got)
	}
}

func TestWorkerMgrDelayAndRepeat(t *testing.T) {
	t.Parallel()

	m := New("DelayAndRepeatTest")

	runs := atomic.Int32{}

	// Delay first, then repeat.
	m.NewWorkerMgr("test", func(w *WorkerCtx) error {
		runs.Add(1)
		return nil
	}, nil).Delay(500 * time.Millisecond).Repeat(100 * time.Millisecond)

	// Must not have run right away.
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != 0 {
		t.Error("worker ran before the delay elapsed")
	}

	// After the delay the repeat schedule takes over.
	if !waitFor(t, 5*time.Second, func() bool { return runs.Load() >= 3 }) {
		t.Errorf("worker did not settle into repeating, runs=%d", runs.Load())
	}
}

func TestWorkerMgrGo(t *testing.T) {
	t.Parallel()

	m := New("GoTest")

	runs := atomic.Int32{}

	// Schedule far in the future, then trigger manually.
	wm := m.NewWorkerMgr("test", func(w *WorkerCtx) error {
		runs.Add(1)
		return nil
	}, nil).Delay(time.Hour)
	wm.Go()

	if !waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 }) {
		t.Error("manual trigger did not run the worker")
	}
}

func TestWorkerMgrStop(t *testing.T) {
	t.Parallel()

	m := New("StopTest")

	runs := atomic.Int32{}

	wm := m.NewWorkerMgr("test", func(w *WorkerCtx) error {
		runs.Add(1)
		return nil
	}, nil).Repeat(50 * time.Millisecond)

	// Let it run, then stop.
	if !waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 }) {
		t.Fatal("worker did not run")
	}
	wm.Stop()

	// No further runs after stopping, modulo one already in flight.
	time.Sleep(100 * time.Millisecond)
	after := runs.Load()
	time.Sleep(300 * time.Millisecond)
	if runs.Load() > after {
		t.Errorf("worker kept running after stop: %d -> %d", after, runs.Load())
	}
}

func TestWorkerMgrErrorFn(t *testing.T) {
	t.Parallel()

	m := New("ErrorFnTest")

	failed := atomic.Bool{}

	wm := m.NewWorkerMgr("test", func(w *WorkerCtx) error {
		panic("broken on purpose")
	}, func(c *WorkerCtx, err error, panicInfo string) {
		if err != nil {
			failed.Store(true)
		}
		c.WorkerMgr().Stop()
	})
	wm.Delay(10 * time.Millisecond)

	if !waitFor(t, 3*time.Second, failed.Load) {
		t.Error("error function was not called for panicking worker")
	}
}
