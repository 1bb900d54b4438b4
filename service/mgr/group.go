package mgr

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrUnsuitableGroupState is returned when the group is not in the right
	// state for the requested operation.
	ErrUnsuitableGroupState = errors.New("unsuitable group state")

	// ErrInvalidGroupState is returned when a failed stop left the group
	// beyond recovery.
	ErrInvalidGroupState = errors.New("invalid group state")
)

const (
	groupStateOff int32 = iota
	groupStateStarting
	groupStateRunning
	groupStateStopping
	groupStateInvalid
)

var groupStateNames = map[int32]string{
	groupStateOff:      "off",
	groupStateStarting: "starting",
	groupStateRunning:  "running",
	groupStateStopping: "stopping",
	groupStateInvalid:  "invalid",
}

func groupStateName(state int32) string {
	if name, ok := groupStateNames[state]; ok {
		return name
	}
	return "unknown"
}

// Group holds modules and starts and stops them in order.
type Group struct {
	modules []*groupModule

	state atomic.Int32
}

type groupModule struct {
	module Module
	mgr    *Manager
}

// Module is a manage-able instance of some component.
type Module interface {
	Manager() *Manager
	Start() error
	Stop() error
}

// NewGroup returns a group of the given modules.
func NewGroup(modules ...Module) *Group {
	g := &Group{
		modules: make([]*groupModule, 0, len(modules)),
	}
	for _, m := range modules {
		g.Add(m)
	}
	return g
}

// Add appends the module to the group, when it is usable.
// It is not safe for concurrent use with any other method, add all modules
// before doing anything else with the group.
func (g *Group) Add(m Module) {
	// Skip nil values to allow for cleaner code. Nil values given via
	// a struct come in as interfaces to a nil type, skip those too.
	if m == nil || reflect.ValueOf(m).IsNil() {
		return
	}

	mgr := m.Manager()
	if mgr == nil {
		return
	}
	if mgr.Name() == "" {
		mgr.setName(strings.TrimPrefix(fmt.Sprintf("%T", m), "*"))
	}

	g.modules = append(g.modules, &groupModule{
		module: m,
		mgr:    mgr,
	})
}

// Start starts the modules in order. When one fails, it and the modules
// started so far are stopped again in reverse order.
func (g *Group) Start() error {
	switch g.state.Load() {
	case groupStateRunning:
		// Nothing to do.
		return nil
	case groupStateInvalid:
		// A failed stop left the group unusable.
		return fmt.Errorf("%w: cannot recover", ErrInvalidGroupState)
	default:
		if !g.state.CompareAndSwap(groupStateOff, groupStateStarting) {
			return fmt.Errorf("%w: group is not off, state: %s", ErrUnsuitableGroupState, groupStateName(g.state.Load()))
		}
	}

	for i, gm := range g.modules {
		if err := startModule(gm); err != nil {
			// Roll back the modules started so far.
			if g.stopModules(i) {
				g.state.Store(groupStateOff)
			} else {
				g.state.Store(groupStateInvalid)
			}
			return fmt.Errorf("failed to start %s: %w", gm.mgr.name, err)
		}
	}

	g.state.Store(groupStateRunning)
	return nil
}

// Stop stops the modules in reverse order.
func (g *Group) Stop() error {
	switch g.state.Load() {
	case groupStateOff:
		// Nothing to do.
		return nil
	case groupStateInvalid:
		// A failed stop left the group unusable.
		return fmt.Errorf("%w: cannot recover", ErrInvalidGroupState)
	default:
		if !g.state.CompareAndSwap(groupStateRunning, groupStateStopping) {
			return fmt.Errorf("%w: group is not running, state: %s", ErrUnsuitableGroupState, groupStateName(g.state.Load()))
		}
	}

	if !g.stopModules(len(g.modules) - 1) {
		g.state.Store(groupStateInvalid)
		return errors.New("failed to stop")
	}

	g.state.Store(groupStateOff)
	return nil
}

func startModule(gm *groupModule) error {
	gm.mgr.Debug("starting")
	start := time.Now()

	err := gm.mgr.Do("start module "+gm.mgr.name, func(_ *WorkerCtx) error {
		return gm.module.Start()
	})
	if err != nil {
		gm.mgr.Error("failed to start", "err", err, "time", time.Since(start))
		return err
	}

	gm.mgr.Info("started", "time", time.Since(start))
	return nil
}

// stopModules stops the modules up to the given index in reverse order
// and resets their managers for a later restart.
func (g *Group) stopModules(from int) (ok bool) {
	ok = true
	for i := from; i >= 0; i-- {
		if !stopModule(g.modules[i]) {
			ok = false
		}
	}

	if !ok {
		// Stopping failed somewhere. Give stuck workers a moment
		// before the contexts are reset under them.
		time.Sleep(time.Second)
	}
	for _, gm := range g.modules {
		gm.mgr.Reset()
	}
	return ok
}

func stopModule(gm *groupModule) (ok bool) {
	ok = true
	gm.mgr.Debug("stopping")
	start := time.Now()

	err := gm.mgr.Do("stop module "+gm.mgr.name, func(_ *WorkerCtx) error {
		return gm.module.Stop()
	})
	if err != nil {
		gm.mgr.Error("failed to stop", "err", err, "time", time.Since(start))
		ok = false
	}

	// Cancel the module context and wait for all workers to end.
	gm.mgr.Cancel()
	if !gm.mgr.WaitForWorkers(0) {
		gm.mgr.Error(
			"failed to stop",
			"err", "timed out",
			"workerCnt", gm.mgr.workerCnt.Load(),
			"time", time.Since(start),
		)
		return false
	}

	if ok {
		gm.mgr.Info("stopped", "time", time.Since(start))
	}
	return ok
}

// Ready reports whether the group is running.
func (g *Group) Ready() bool {
	return g.state.Load() == groupStateRunning
}

// Modules returns the modules of the group as a copy.
func (g *Group) Modules() []Module {
	copied := make([]Module, 0, len(g.modules))
	for _, gm := range g.modules {
		copied = append(copied, gm.module)
	}
	return copied
}
