package iconapi

import (
	"net/http"

	"github.com/safing/winicon/base/metrics"
)

func registerMetricsAPI() error {
	RegisterHandler("/metrics", &metricsHandler{})

	return RegisterEndpoint(Endpoint{
		Name:        "Export Registered Metrics",
		Description: "List all registered metrics with their metadata.",
		Path:        "metrics/list",
		StructFunc: func(_ *Request) (interface{}, error) {
			return metrics.ExportMetrics(), nil
		},
	})
}

// metricsHandler exposes all registered metrics in prometheus text format.
type metricsHandler struct{}

func (m *metricsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	metrics.WriteMetrics(w)
}
