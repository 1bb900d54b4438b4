package mgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// WorkerCtx is the environment a worker runs in. It carries the worker
// context and the worker logger.
type WorkerCtx struct {
	name string

	ctx       context.Context
	cancelCtx context.CancelFunc

	workerMgr *WorkerMgr

	logger *slog.Logger
}

// workerContextKey is the key for WorkerCtx values in a context.
type workerContextKey struct{}

var workerCtxKey = workerContextKey{}

// AddToCtx returns a context carrying the WorkerCtx.
func (w *WorkerCtx) AddToCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, workerCtxKey, w)
}

// WorkerFromCtx returns the WorkerCtx carried by the context, or nil.
func WorkerFromCtx(ctx context.Context) *WorkerCtx {
	w, ok := ctx.Value(workerCtxKey).(*WorkerCtx)
	if ok {
		return w
	}
	return nil
}

// Ctx returns the worker context.
// It is canceled when the worker returns, regardless of outcome.
func (w *WorkerCtx) Ctx() context.Context {
	return w.ctx
}

// Cancel stops the worker by canceling its context.
func (w *WorkerCtx) Cancel() {
	if w.cancelCtx != nil {
		w.cancelCtx()
	}
}

// WorkerMgr returns the worker manager this worker was scheduled by.
// It returns nil when the worker was started directly.
func (w *WorkerCtx) WorkerMgr() *WorkerMgr {
	return w.workerMgr
}

// Done returns a channel that is closed when the worker context is canceled.
func (w *WorkerCtx) Done() <-chan struct{} {
	return w.ctx.Done()
}

// IsDone reports whether the worker context has been canceled.
func (w *WorkerCtx) IsDone() bool {
	return w.ctx.Err() != nil
}

// Logger returns the worker logger.
func (w *WorkerCtx) Logger() *slog.Logger {
	return w.logger
}

// Debug logs a debug message with the worker context attached.
func (w *WorkerCtx) Debug(msg string, args ...any) {
	w.logger.DebugContext(w.ctx, msg, args...)
}

// Info logs an info message with the worker context attached.
func (w *WorkerCtx) Info(msg string, args ...any) {
	w.logger.InfoContext(w.ctx, msg, args...)
}

// Warn logs a warning message with the worker context attached.
func (w *WorkerCtx) Warn(msg string, args ...any) {
	w.logger.WarnContext(w.ctx, msg, args...)
}

// Error logs an error message with the worker context attached.
func (w *WorkerCtx) Error(msg string, args ...any) {
	w.logger.ErrorContext(w.ctx, msg, args...)
}

// logFailure logs a worker failure with the panic location, if any.
func (w *WorkerCtx) logFailure(err error, panicInfo string, extra ...any) {
	args := append([]any{"err", err}, extra...)
	if panicInfo != "" {
		args = append(args, "panic", panicInfo)
	}
	w.Error("worker failed", args...)
}

// Go runs the given function in a new goroutine as a worker.
// The worker has its own context that is canceled when the function returns,
// logs through a named logger and recovers panics into errors. When the
// function fails, it is restarted with increasing backoff.
func (m *Manager) Go(name string, fn func(w *WorkerCtx) error) {
	go m.manageWorker(name, fn)
}

func (m *Manager) manageWorker(name string, fn func(w *WorkerCtx) error) {
	m.workerStart()
	defer m.workerDone()

	w := &WorkerCtx{
		name:   name,
		ctx:    m.ctx,
		logger: m.logger.With("worker", name),
	}

	for failCnt := 0; ; {
		panicInfo, err := m.runWorker(w, fn)
		switch {
		case err == nil:
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Cancellation counts as a regular finish.
			return
		}

		// Any other error triggers a restart with backoff, unless the
		// whole module is shutting down.
		if m.IsDone() {
			return
		}
		failCnt++
		backoff := retryBackoff(failCnt)
		w.logFailure(err, panicInfo, "failCnt", failCnt, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-m.ctx.Done():
			return
		}
	}
}

// retryBackoff returns the wait duration before restarting a failed
// worker, doubling per failure up to one minute.
func retryBackoff(failCnt int) time.Duration {
	backoff := time.Second
	for i := 1; i < failCnt; i++ {
		backoff *= 2
		if backoff >= time.Minute {
			return time.Minute
		}
	}
	return backoff
}

// Do runs the given function inline as a worker and returns its error.
// The worker environment matches the one of Go, but failed workers are not
// restarted.
func (m *Manager) Do(name string, fn func(w *WorkerCtx) error) error {
	m.workerStart()
	defer m.workerDone()

	w := &WorkerCtx{
		name:   name,
		ctx:    m.ctx,
		logger: m.logger.With("worker", name),
	}

	panicInfo, err := m.runWorker(w, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Cancellation counts as a regular finish.
		return err
	default:
		w.logFailure(err, panicInfo)
		return err
	}
}

func (m *Manager) runWorker(w *WorkerCtx, fn func(w *WorkerCtx) error) (panicInfo string, err error) {
	// The worker context ends with the worker, however it returns.
	w.ctx, w.cancelCtx = context.WithCancel(w.ctx)
	defer w.cancelCtx()

	// Turn panics into errors.
	defer func() {
		panicVal := recover()
		if panicVal != nil {
			err = fmt.Errorf("panic: %v", panicVal)

			stackTrace := string(debug.Stack())
			fmt.Fprintf(
				os.Stderr,
				"===== PANIC =====\n%v\n\n%s\n===== END OF PANIC =====\n",
				panicVal,
				stackTrace,
			)
			panicInfo = panicLocation(stackTrace)
		}
	}()

	err = fn(w)
	return //nolint:nakedret // Return panicInfo, which is set in deferred function.
}

// panicLocation returns the file:line of the first own frame after the
// panic call in the given stack trace.
func panicLocation(stackTrace string) string {
	lines := strings.Split(stackTrace, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.Contains(lines[i], "panic(") {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.Contains(lines[j], "winicon") && j+1 < len(lines) {
				return strings.SplitN(strings.TrimSpace(lines[j+1]), " ", 2)[0]
			}
		}
		return ""
	}
	return ""
}

// Repeat runs the given function periodically as a worker, with the same
// environment as Go. It is meant for long running tasks that are mostly
// idle.
func (m *Manager) Repeat(name string, period time.Duration, fn func(w *WorkerCtx) error) *WorkerMgr {
	return m.NewWorkerMgr(name, fn, nil).Repeat(period)
}
