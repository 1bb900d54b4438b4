package mgr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoReturnsWorkerError(t *testing.T) {
	t.Parallel()

	m := New("DoTest")

	wantErr := errors.New("worker says no")
	err := m.Do("failing worker", func(w *WorkerCtx) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("unexpected error: %v", err)
	}

	err = m.Do("passing worker", func(w *WorkerCtx) error {
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	t.Parallel()

	m := New("PanicTest")

	err := m.Do("panicking worker", func(w *WorkerCtx) error {
		panic("oh no")
	})
	if err == nil {
		t.Fatal("expected error from panicking worker")
	}
	if want := "panic: oh no"; err.Error() != want {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestGoAndWaitForWorkers(t *testing.T) {
	t.Parallel()

	m := New("GoWaitTest")

	done := atomic.Bool{}
	m.Go("sleeping worker", func(w *WorkerCtx) error {
		time.Sleep(100 * time.Millisecond)
		done.Store(true)
		return nil
	})

	if !m.WaitForWorkers(time.Second) {
		t.Error("workers did not finish in time")
	}
	if !done.Load() {
		t.Error("worker did not run to completion")
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	m := New("CancelTest")

	m.Go("blocking worker", func(w *WorkerCtx) error {
		<-w.Done()
		return w.Ctx().Err()
	})

	// Give the worker a moment to start, then cancel the module.
	time.Sleep(50 * time.Millisecond)
	m.Cancel()

	if !m.WaitForWorkers(time.Second) {
		t.Error("canceled worker did not finish")
	}
}

func TestWorkerCtxRoundTrip(t *testing.T) {
	t.Parallel()

	m := New("CtxTest")

	err := m.Do("ctx worker", func(w *WorkerCtx) error {
		ctx := w.AddToCtx(context.Background())
		if WorkerFromCtx(ctx) != w {
			t.Error("worker ctx did not survive the context round trip")
		}
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if WorkerFromCtx(context.Background()) != nil {
		t.Error("expected nil worker for plain context")
	}
}

func TestManagerReset(t *testing.T) {
	t.Parallel()

	m := New("ResetTest")

	m.Cancel()
	if !m.IsDone() {
		t.Fatal("manager not done after cancel")
	}

	m.Reset()
	if m.IsDone() {
		t.Error("manager still done after reset")
	}
}

func TestEventMgrSubscription(t *testing.T) {
	t.Parallel()

	m := New("EventTest")
	em := NewEventMgr[string]("test event", m)

	sub := em.Subscribe("tester", 4)
	em.Submit("hello")

	select {
	case v := <-sub.Events():
		if v != "hello" {
			t.Errorf("unexpected event value: %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}

	// After cancelation no new events are delivered.
	sub.Cancel()
	em.Submit("dropped")
	select {
	case v := <-sub.Events():
		t.Errorf("received event after cancel: %q", v)
	default:
	}
	if !sub.Done() {
		t.Error("subscription not marked as done")
	}
}

func TestEventMgrCallback(t *testing.T) {
	t.Parallel()

	m := New("EventCallbackTest")
	em := NewEventMgr[int]("test event", m)

	total := atomic.Int32{}
	em.AddCallback("sum", func(w *WorkerCtx, v int) (bool, error) {
		total.Add(int32(v))
		return false, nil
	})

	em.Submit(1)
	em.Submit(2)

	// Callbacks run in workers, so wait for them.
	if !waitFor(t, time.Second, func() bool { return total.Load() == 3 }) {
		t.Errorf("callbacks did not run, total=%d", total.Load())
	}
}

type testModule struct {
	mgr      *Manager
	startErr error

	started atomic.Bool
	stopped atomic.Bool
}

func newTestModule(name string, startErr error) *testModule {
	return &testModule{
		mgr:      New(name),
		startErr: startErr,
	}
}

func (t *testModule) Manager() *Manager { return t.mgr }

func (t *testModule) Start() error {
	if t.startErr != nil {
		return t.startErr
	}
	t.started.Store(true)
	return nil
}

func (t *testModule) Stop() error {
	t.stopped.Store(true)
	return nil
}

func TestGroupStartStop(t *testing.T) {
	t.Parallel()

	a := newTestModule("a", nil)
	b := newTestModule("b", nil)
	g := NewGroup(a, b)

	if err := g.Start(); err != nil {
		t.Fatalf("failed to start group: %v", err)
	}
	if !g.Ready() {
		t.Error("group not ready after start")
	}
	if !a.started.Load() || !b.started.Load() {
		t.Error("not all modules started")
	}

	// Starting again is a no-op.
	if err := g.Start(); err != nil {
		t.Errorf("restarting a running group should be a no-op: %v", err)
	}

	if err := g.Stop(); err != nil {
		t.Fatalf("failed to stop group: %v", err)
	}
	if g.Ready() {
		t.Error("group still ready after stop")
	}
	if !a.stopped.Load() || !b.stopped.Load() {
		t.Error("not all modules stopped")
	}
}

func TestGroupStartRollback(t *testing.T) {
	t.Parallel()

	a := newTestModule("a", nil)
	b := newTestModule("b", errors.New("b refuses to start"))
	g := NewGroup(a, b)

	err := g.Start()
	if err == nil {
		t.Fatal("expected start to fail")
	}
	if !a.stopped.Load() {
		t.Error("previously started module was not rolled back")
	}
	if g.Ready() {
		t.Error("group ready despite failed start")
	}

	// After the rollback the group can be started again.
	b.startErr = nil
	if err := g.Start(); err != nil {
		t.Fatalf("failed to start group after rollback: %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("failed to stop group: %v", err)
	}
}

func TestGroupSkipsNilModules(t *testing.T) {
	t.Parallel()

	var nilModule *testModule
	g := NewGroup(newTestModule("a", nil), nilModule, nil)

	if got := len(g.Modules()); got != 1 {
		t.Errorf("expected 1 module in group, got %d", got)
	}
}
