// Package metrics provides a registry for metrics exposed in the prometheus
// format, built on VictoriaMetrics sets.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/safing/winicon/service/mgr"
)

// Metrics provides the metrics registry as a module.
type Metrics struct {
	mgr      *mgr.Manager
	instance instance
}

// Manager returns the module manager.
func (met *Metrics) Manager() *mgr.Manager {
	return met.mgr
}

// Start starts the module.
func (met *Metrics) Start() error {
	return start()
}

// Stop stops the module.
func (met *Metrics) Stop() error {
	return nil
}

var (
	module     *Metrics
	shimLoaded atomic.Bool

	registry     []Metric
	registryLock sync.RWMutex

	readyToRegister       bool
	firstMetricRegistered bool
	metricNamespace       string
	globalLabels          = make(map[string]string)

	// ErrAlreadyStarted is returned when a setting can no longer be changed
	// because a metric has already been registered.
	ErrAlreadyStarted = errors.New("can only be changed before first metric is registered")

	// ErrAlreadyRegistered is returned when a metric with the same labeled ID
	// already exists.
	ErrAlreadyRegistered = errors.New("metric already registered")

	// ErrAlreadySet is returned when a value can only be set once.
	ErrAlreadySet = errors.New("already set")
)

func start() error {
	// Allow registrations from now on.
	registryLock.Lock()
	readyToRegister = true
	registryLock.Unlock()

	return registerRuntimeMetric()
}

func register(m Metric) error {
	registryLock.Lock()
	defer registryLock.Unlock()

	if !readyToRegister {
		return fmt.Errorf("registering metric %q too early", m.ID())
	}

	// The registry is kept sorted by labeled ID.
	at := sort.Search(len(registry), func(i int) bool {
		return registry[i].LabeledID() >= m.LabeledID()
	})
	if at < len(registry) && registry[at].LabeledID() == m.LabeledID() {
		return ErrAlreadyRegistered
	}
	if m.Opts().InternalID != "" {
		for _, other := range registry {
			if other.Opts().InternalID == m.Opts().InternalID {
				return fmt.Errorf("%w with this internal ID", ErrAlreadyRegistered)
			}
		}
	}
	registry = slices.Insert(registry, at, m)

	// Namespace and global labels are locked in from now on.
	firstMetricRegistered = true

	return nil
}

// SetNamespace sets the namespace prefix that is applied to every metric ID.
// It can only be called before the first metric is registered, and only once.
func SetNamespace(namespace string) error {
	registryLock.Lock()
	defer registryLock.Unlock()

	if firstMetricRegistered {
		return ErrAlreadyStarted
	}
	if metricNamespace != "" {
		return ErrAlreadySet
	}

	metricNamespace = namespace
	return nil
}

// AddGlobalLabel attaches the label to every metric that is registered later.
// It can only be called before the first metric is registered.
func AddGlobalLabel(name, value string) error {
	registryLock.Lock()
	defer registryLock.Unlock()

	if firstMetricRegistered {
		return ErrAlreadyStarted
	}
	if err := checkFormat(name); err != nil {
		return fmt.Errorf("global label name %q invalid: %w", name, err)
	}

	globalLabels[name] = value
	return nil
}

// WriteMetrics writes all registered metrics in the prometheus format to the
// given writer.
func WriteMetrics(w io.Writer) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	for _, m := range registry {
		m.WritePrometheus(w)
	}
}

// ExportMetrics exports the registered metrics with their metadata.
// The returned data must be treated as immutable.
func ExportMetrics() []Metric {
	registryLock.RLock()
	defer registryLock.RUnlock()

	export := make([]Metric, len(registry))
	copy(export, registry)
	return export
}

// New returns a new metrics module.
func New(instance instance) (*Metrics, error) {
	if !shimLoaded.CompareAndSwap(false, true) {
		return nil, errors.New("only one instance allowed")
	}
	m := mgr.New("Metrics")
	module = &Metrics{
		mgr:      m,
		instance: instance,
	}
	return module, nil
}

type instance interface{}
