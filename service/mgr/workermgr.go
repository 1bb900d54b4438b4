package mgr

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WorkerMgr schedules a worker.
type WorkerMgr struct {
	mgr *Manager
	ctx *WorkerCtx

	// Definition.
	name    string
	fn      func(w *WorkerCtx) error
	errorFn func(c *WorkerCtx, err error, panicInfo string)

	// Manual trigger.
	run chan struct{}

	// Schedule change notification.
	reconfigured chan struct{}

	schedLock sync.Mutex
	delay     *time.Timer
	repeat    *time.Ticker
	interval  time.Duration
}

// NewWorkerMgr creates a new scheduler for the given worker function.
// Errors and panics will only be logged by default.
// If custom behavior is required, supply an errorFn.
// When all scheduling has ended, the scheduler ends itself, including
// all related workers.
func (m *Manager) NewWorkerMgr(name string, fn func(w *WorkerCtx) error, errorFn func(c *WorkerCtx, err error, panicInfo string)) *WorkerMgr {
	wCtx := &WorkerCtx{
		name:   name,
		logger: m.logger.With("worker", name),
	}
	wCtx.ctx, wCtx.cancelCtx = context.WithCancel(m.Ctx())

	wm := &WorkerMgr{
		mgr:          m,
		ctx:          wCtx,
		name:         name,
		fn:           fn,
		errorFn:      errorFn,
		run:          make(chan struct{}, 1),
		reconfigured: make(chan struct{}, 1),
	}
	wCtx.workerMgr = wm

	go wm.loop()
	return wm
}

func (wm *WorkerMgr) loop() {
	wm.mgr.workerStart()
	defer wm.mgr.workerDone()

	// If the scheduler ends, end all descendants too.
	defer wm.ctx.cancelCtx()
	defer wm.stopSchedules()

	// The builder methods run after this goroutine starts, so wait for
	// the first schedule to arrive.
	select {
	case <-wm.reconfigured:
	case <-wm.ctx.Done():
		return
	}

	for {
		// Snapshot the current schedule. A pending delay takes
		// priority, repeating resumes after it fired.
		var delayC, repeatC <-chan time.Time
		wm.schedLock.Lock()
		switch {
		case wm.delay != nil:
			delayC = wm.delay.C
		case wm.repeat != nil:
			repeatC = wm.repeat.C
		}
		scheduled := wm.delay != nil || wm.repeat != nil
		wm.schedLock.Unlock()

		// Without any schedule left the scheduler ends itself. A manual
		// trigger may have arrived together with the schedule being
		// cleared, run it before ending.
		if !scheduled {
			select {
			case <-wm.run:
				wm.runOnce()
				continue
			default:
			}
			return
		}

		select {
		case <-delayC:
			wm.delayFired()
		case <-repeatC:
			// Time-triggered execution.
		case <-wm.run:
			// Manually triggered execution.
		case <-wm.reconfigured:
			// Re-evaluate the schedule.
			continue
		case <-wm.ctx.Done():
			return
		}

		wm.runOnce()
	}
}

// delayFired clears the one-shot delay and starts the repeat schedule
// over, if one is set.
func (wm *WorkerMgr) delayFired() {
	wm.schedLock.Lock()
	defer wm.schedLock.Unlock()

	wm.delay = nil
	if wm.repeat != nil {
		wm.repeat.Reset(wm.interval)
		// Drop a tick that may have fired while the delay was pending.
		select {
		case <-wm.repeat.C:
		default:
		}
	}
}

func (wm *WorkerMgr) stopSchedules() {
	wm.schedLock.Lock()
	defer wm.schedLock.Unlock()

	if wm.delay != nil {
		wm.delay.Stop()
		wm.delay = nil
	}
	if wm.repeat != nil {
		wm.repeat.Stop()
		wm.repeat = nil
	}
}

// runOnce executes the worker function a single time.
func (wm *WorkerMgr) runOnce() {
	w := &WorkerCtx{
		workerMgr: wm,
		logger:    wm.mgr.logger.With("worker", wm.name),
	}
	w.ctx = wm.mgr.Ctx()

	panicInfo, err := wm.mgr.runWorker(w, wm.fn)
	switch {
	case err == nil:
		// Continue with the schedule.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Worker canceled, continue with the schedule.
	default:
		wm.ctx.logFailure(err, panicInfo)
		// The error function may stop the scheduler if it wants to.
		if wm.errorFn != nil {
			wm.errorFn(wm.ctx, err, panicInfo)
		}
	}
}

// Go executes the worker immediately. If the worker is currently being
// executed, the next execution will commence afterwards.
// Can only be called after calling Delay() or Repeat().
func (wm *WorkerMgr) Go() {
	wm.schedLock.Lock()
	if wm.delay != nil {
		wm.delay.Stop()
		wm.delay = nil
	}
	if wm.repeat != nil {
		wm.repeat.Reset(wm.interval)
	}
	wm.schedLock.Unlock()

	select {
	case wm.run <- struct{}{}:
	default:
	}
}

// Stop immediately stops the scheduler and all related workers.
func (wm *WorkerMgr) Stop() {
	wm.ctx.cancelCtx()
}

// Delay will schedule the worker to run once after the given duration.
// If set, the repeat schedule will continue afterwards.
// Disable the delay by passing 0.
func (wm *WorkerMgr) Delay(duration time.Duration) *WorkerMgr {
	wm.schedLock.Lock()
	if wm.delay != nil {
		wm.delay.Stop()
		wm.delay = nil
	}
	if duration > 0 {
		wm.delay = time.NewTimer(duration)
	}
	wm.schedLock.Unlock()

	wm.wake()
	return wm
}

// Repeat will repeatedly execute the worker using the given interval.
// Disable repeating by passing 0.
func (wm *WorkerMgr) Repeat(interval time.Duration) *WorkerMgr {
	wm.schedLock.Lock()
	if wm.repeat != nil {
		wm.repeat.Stop()
		wm.repeat = nil
	}
	if interval > 0 {
		wm.repeat = time.NewTicker(interval)
		wm.interval = interval
	}
	wm.schedLock.Unlock()

	wm.wake()
	return wm
}

// wake notifies the scheduler loop that the schedule changed.
func (wm *WorkerMgr) wake() {
	select {
	case wm.reconfigured <- struct{}{}:
	default:
	}
}
