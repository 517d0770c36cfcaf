package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatchledger"

// Metrics holds the Prometheus collectors shared by the services and sweeps.
type Metrics struct {
	Registry *prometheus.Registry

	Operations     *prometheus.CounterVec
	PublishFailed  *prometheus.CounterVec
	SweepDuration  *prometheus.HistogramVec
	SweepProcessed *prometheus.CounterVec
	ChainBreaks    prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry, alongside the Go and process
// collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)
	return &Metrics{
		Registry: registry,
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "State-changing operations by component, operation and outcome",
		}, []string{"component", "operation", "status"}),
		PublishFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Outbound events that could not be delivered",
		}, []string{"component", "topic"}),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one background sweep run",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"sweep", "status"}),
		SweepProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_processed_total",
			Help:      "Orders acted on by background sweeps",
		}, []string{"sweep"}),
		ChainBreaks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_chain_breaks_total",
			Help:      "Ledger operations that hit a broken hash chain",
		}),
	}
}
