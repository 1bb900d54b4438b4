// Package mgr provides simple module management.
package mgr

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Manager manages workers and provides the module context and logger.
type Manager struct {
	name   string
	logger *slog.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc

	workerCnt   atomic.Int32
	workersDone chan struct{}
}

// New returns a new manager with the given name.
func New(name string) *Manager {
	m := &Manager{
		name:        name,
		logger:      slog.Default().With("module", name),
		workersDone: make(chan struct{}),
	}
	m.ctx, m.cancelCtx = context.WithCancel(context.Background())
	return m
}

// Name returns the name the manager was created with.
func (m *Manager) Name() string {
	return m.name
}

// setName sets the manager name and updates the logger accordingly.
func (m *Manager) setName(name string) {
	m.name = name
	m.logger = slog.Default().With("module", name)
}

// Ctx returns the manager context.
func (m *Manager) Ctx() context.Context {
	return m.ctx
}

// Cancel cancels the manager context.
func (m *Manager) Cancel() {
	m.cancelCtx()
}

// Done returns a channel that is closed when the manager is canceled.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// IsDone reports whether the manager has been canceled.
func (m *Manager) IsDone() bool {
	return m.ctx.Err() != nil
}

// Reset gives the manager a fresh context so its module can be
// started again after a stop. Not safe for use while workers run.
func (m *Manager) Reset() {
	m.ctx, m.cancelCtx = context.WithCancel(context.Background())
}

// Debug logs a debug message with the manager context attached.
func (m *Manager) Debug(msg string, args ...any) {
	m.logger.DebugContext(m.ctx, msg, args...)
}

// Info logs an info message with the manager context attached.
func (m *Manager) Info(msg string, args ...any) {
	m.logger.InfoContext(m.ctx, msg, args...)
}

// Warn logs a warning message with the manager context attached.
func (m *Manager) Warn(msg string, args ...any) {
	m.logger.WarnContext(m.ctx, msg, args...)
}

// Error logs an error message with the manager context attached.
func (m *Manager) Error(msg string, args ...any) {
	m.logger.ErrorContext(m.ctx, msg, args...)
}

// WaitForWorkers waits until all workers of this manager have finished,
// up to the given maximum duration. A zero maximum waits one minute.
func (m *Manager) WaitForWorkers(max time.Duration) (done bool) {
	if m.workerCnt.Load() == 0 {
		return true
	}
	if max <= 0 {
		max = time.Minute
	}

	// The workersDone signal can race with a new worker starting, so
	// the count is additionally polled in intervals.
	recheck := time.NewTicker(50 * time.Millisecond)
	deadline := time.NewTimer(max)
	defer recheck.Stop()
	defer deadline.Stop()

	for {
		select {
		case <-m.workersDone:
			return true
		case <-recheck.C:
			if m.workerCnt.Load() == 0 {
				return true
			}
		case <-deadline.C:
			return m.workerCnt.Load() == 0
		}
	}
}

func (m *Manager) workerStart() {
	m.workerCnt.Add(1)
}

func (m *Manager) workerDone() {
	if m.workerCnt.Add(-1) == 0 {
		// Wake every waiter.
		for {
			select {
			case m.workersDone <- struct{}{}:
			default:
				return
			}
		}
	}
}
