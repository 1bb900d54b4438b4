package metrics

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/safing/winicon/base/log"
)

func registerRuntimeMetric() error {
	runtimeBase, err := newMetricBase("_runtime", nil, &Options{
		Name: "Golang Runtime",
	})
	if err != nil {
		return err
	}

	return register(&runtimeMetrics{
		metricBase: runtimeBase,
	})
}

// runtimeMetrics exposes the Go process metrics collected by
// VictoriaMetrics. The vm writer knows nothing about the registry
// namespace or global labels, so every line is rewritten on the way
// out.
type runtimeMetrics struct {
	*metricBase
}

func (r *runtimeMetrics) WritePrometheus(w io.Writer) {
	// Without a namespace or global labels the process metrics can go
	// out untouched.
	if metricNamespace == "" && len(globalLabels) == 0 {
		vm.WriteProcessMetrics(w)
		return
	}

	buf := new(bytes.Buffer)
	vm.WriteProcessMetrics(buf)

	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fmt.Fprintln(w, rewriteMetricLine(line))
	}
	if scanner.Err() != nil {
		log.Warningf("metrics: failed to scan go process metrics: %s", scanner.Err())
	}
}

// rewriteMetricLine prefixes the metric name of a single prometheus
// line with the namespace and injects the global labels into its label
// set.
func rewriteMetricLine(line string) string {
	if metricNamespace != "" {
		line = metricNamespace + "_" + line
	}
	if len(globalLabels) == 0 {
		return line
	}

	// Render the global labels sorted, for reproducible output.
	labels := make([]string, 0, len(globalLabels))
	for labelName, labelValue := range globalLabels {
		labels = append(labels, fmt.Sprintf("%s=%q", labelName, labelValue))
	}
	sort.Strings(labels)
	rendered := strings.Join(labels, ",")

	// Merge into an existing label set or insert a new one before the
	// value.
	if insertAt := strings.Index(line, "{"); insertAt >= 0 {
		return line[:insertAt+1] + rendered + "," + line[insertAt+1:]
	}
	if insertAt := strings.Index(line, " "); insertAt >= 0 {
		return line[:insertAt] + "{" + rendered + "}" + line[insertAt:]
	}
	return line
}
