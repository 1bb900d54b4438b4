package metrics

import (
	vm "github.com/VictoriaMetrics/metrics"
)

// Gauge reads its value from a function when scraped.
type Gauge struct {
	*metricBase
	*vm.Gauge
}

// NewGauge creates and registers a gauge with the given ID and labels.
func NewGauge(id string, labels map[string]string, fn func() float64, opts *Options) (*Gauge, error) {
	base, err := newMetricBase(id, labels, opts)
	if err != nil {
		return nil, err
	}

	m := &Gauge{metricBase: base}
	m.Gauge = m.set.NewGauge(m.LabeledID(), fn)
	if err := register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CurrentValue returns the current gauge value.
func (g *Gauge) CurrentValue() float64 {
	return g.Get()
}
