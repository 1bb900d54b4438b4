// Package service ties the icon service modules together.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/safing/winicon/base/metrics"
	"github.com/safing/winicon/service/iconapi"
	"github.com/safing/winicon/service/iconstore"
	"github.com/safing/winicon/service/mgr"
)

// Config holds the instance configuration.
type Config struct {
	// DataDir is the directory the icon database lives in.
	DataDir string

	// ListenAddr is the address the HTTP API listens on.
	ListenAddr string
}

// Instance is an instance of the icon service.
type Instance struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	serviceGroup *mgr.Group

	exitCode atomic.Int32

	config Config

	metrics   *metrics.Metrics
	iconStore *iconstore.IconStore
	iconAPI   *iconapi.IconAPI
}

// New returns a new icon service instance.
func New(config Config) (*Instance, error) {
	// The instance is handed to the modules while they are created.
	instance := &Instance{
		config: config,
	}
	instance.ctx, instance.cancelCtx = context.WithCancel(context.Background())

	// The namespace must be set before the first metric is registered.
	if err := metrics.SetNamespace("winicon"); err != nil && !errors.Is(err, metrics.ErrAlreadySet) {
		return instance, fmt.Errorf("set metric namespace: %w", err)
	}

	var err error
	instance.metrics, err = metrics.New(instance)
	if err != nil {
		return instance, fmt.Errorf("create metrics module: %w", err)
	}
	instance.iconStore, err = iconstore.New(instance)
	if err != nil {
		return instance, fmt.Errorf("create iconstore module: %w", err)
	}
	instance.iconAPI, err = iconapi.New(instance)
	if err != nil {
		return instance, fmt.Errorf("create iconapi module: %w", err)
	}

	// Group the modules in start order. Metrics must come first, the
	// other modules register their metrics during start.
	instance.serviceGroup = mgr.NewGroup(
		instance.metrics,
		instance.iconStore,
		instance.iconAPI,
	)

	return instance, nil
}

// AddModule adds the module to the service group.
// Add all modules before doing anything else with the instance.
func (i *Instance) AddModule(m mgr.Module) {
	i.serviceGroup.Add(m)
}

// DataDir returns the directory the icon database lives in.
func (i *Instance) DataDir() string {
	return i.config.DataDir
}

// ListenAddr returns the address the HTTP API listens on.
func (i *Instance) ListenAddr() string {
	return i.config.ListenAddr
}

// Metrics returns the metrics module.
func (i *Instance) Metrics() *metrics.Metrics {
	return i.metrics
}

// IconStore returns the icon store module.
func (i *Instance) IconStore() *iconstore.IconStore {
	return i.iconStore
}

// IconAPI returns the icon api module.
func (i *Instance) IconAPI() *iconapi.IconAPI {
	return i.iconAPI
}

// Ready returns whether all modules in the service group have been started
// and are still running.
func (i *Instance) Ready() bool {
	return i.serviceGroup.Ready()
}

// Ctx returns the instance context, which is canceled on shutdown only.
func (i *Instance) Ctx() context.Context {
	return i.ctx
}

// Start starts all modules of the instance.
func (i *Instance) Start() error {
	return i.serviceGroup.Start()
}

// Stop stops all modules and cancels the instance context when done.
func (i *Instance) Stop() error {
	defer i.cancelCtx()
	return i.serviceGroup.Stop()
}

// Shutdown stops the instance in the background.
func (i *Instance) Shutdown() {
	i.shutdown(0)
}

func (i *Instance) shutdown(exitCode int) {
	// Remember the exit code for the process.
	i.exitCode.Store(int32(exitCode))

	m := mgr.New("instance")
	m.Go("shutdown", func(w *mgr.WorkerCtx) error {
		for {
			if err := i.Stop(); err != nil {
				w.Error("failed to shutdown", "err", err, "retry", "1s")
				time.Sleep(1 * time.Second)
			} else {
				return nil
			}
		}
	})
}

// Stopping reports whether the instance is shutting down.
func (i *Instance) Stopping() bool {
	return i.ctx.Err() != nil
}

// Stopped returns a channel that is closed when the instance has shut down.
func (i *Instance) Stopped() <-chan struct{} {
	return i.ctx.Done()
}

// ExitCode returns the exit code the process should exit with.
func (i *Instance) ExitCode() int {
	return int(i.exitCode.Load())
}
