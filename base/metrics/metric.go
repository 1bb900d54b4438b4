package metrics

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	vm "github.com/VictoriaMetrics/metrics"
)

// PrometheusFormatRequirement is the format required by prometheus for
// metric and label names.
const PrometheusFormatRequirement = "^[a-zA-Z_][a-zA-Z0-9_]*$"

var prometheusFormat = regexp.MustCompile(PrometheusFormatRequirement)

// Metric represents one or more metrics.
type Metric interface {
	ID() string
	LabeledID() string
	Opts() *Options
	WritePrometheus(w io.Writer)
}

// Options can be used to set advanced metric settings.
type Options struct {
	// Name defines an optional human readable name for the metric.
	Name string `json:"name,omitempty"`

	// InternalID specifies an alternative internal ID that is used when
	// exposing the metric via the API in a structured format.
	InternalID string `json:"internalID,omitempty"`
}

type metricBase struct {
	Identifier        string            `json:"id"`
	Labels            map[string]string `json:"labels,omitempty"`
	LabeledIdentifier string            `json:"labeledID"`
	Options           *Options          `json:"options"`

	set *vm.Set
}

func newMetricBase(id string, labels map[string]string, opts *Options) (*metricBase, error) {
	// Work on a copy so that callers cannot change the options afterwards.
	var optsCopy Options
	if opts != nil {
		optsCopy = *opts
	}

	// Check name formats first, before any state is touched.
	if err := checkFormat(strings.ReplaceAll(id, "/", "_")); err != nil {
		return nil, fmt.Errorf("metric name %q invalid: %w", id, err)
	}
	for labelName := range labels {
		if err := checkFormat(labelName); err != nil {
			return nil, fmt.Errorf("metric label name %q invalid: %w", labelName, err)
		}
	}
	if labels == nil {
		labels = make(map[string]string)
	}

	// The namespace and global labels become immutable with the first
	// metric built on them.
	registryLock.Lock()
	defer registryLock.Unlock()
	firstMetricRegistered = true

	// Merge the global labels into the metric labels, custom labels win.
	for labelName, labelValue := range globalLabels {
		if _, ok := labels[labelName]; !ok {
			labels[labelName] = labelValue
		}
	}

	base := &metricBase{
		Identifier: id,
		Labels:     labels,
		Options:    &optsCopy,
		set:        vm.NewSet(),
	}
	base.LabeledIdentifier = buildLabeledID(metricNamespace, id, labels)
	return base, nil
}

// ID returns the given ID of the metric.
func (m *metricBase) ID() string {
	return m.Identifier
}

// LabeledID returns the prometheus-compatible labeled ID of the metric.
func (m *metricBase) LabeledID() string {
	return m.LabeledIdentifier
}

// Opts returns the metric options. They may not be modified.
func (m *metricBase) Opts() *Options {
	return m.Options
}

// WritePrometheus writes the metric in the prometheus format to the given writer.
func (m *metricBase) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

func checkFormat(name string) error {
	if !prometheusFormat.MatchString(name) {
		return fmt.Errorf("must match %s", PrometheusFormatRequirement)
	}
	return nil
}

// buildLabeledID renders the full prometheus metric name with the
// label set sorted, so the ID is reproducible.
func buildLabeledID(namespace, id string, labels map[string]string) string {
	metricID := strings.TrimSpace(strings.ReplaceAll(id, "/", "_"))
	if namespace != "" {
		metricID = namespace + "_" + metricID
	}
	if len(labels) == 0 {
		return metricID
	}

	rendered := make([]string, 0, len(labels))
	for labelName, labelValue := range labels {
		rendered = append(rendered, fmt.Sprintf("%s=%q", labelName, labelValue))
	}
	sort.Strings(rendered)
	return fmt.Sprintf("%s{%s}", metricID, strings.Join(rendered, ","))
}
