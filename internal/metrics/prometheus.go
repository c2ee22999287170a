// Package metrics exposes Prometheus metrics for podnet operations.
//
// podnet runs as a short-lived command, so metrics are usually written to a
// node_exporter textfile at exit rather than scraped.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all podnet metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	// Apply engine
	Transactions *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	Rollbacks    *prometheus.CounterVec

	// Compiler and topology builder
	CompiledRules *prometheus.GaugeVec
	TopologySteps *prometheus.CounterVec

	// Lifecycle verbs
	Verbs *prometheus.CounterVec
}

// Get returns the process-wide registry, registered with the default
// Prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// New creates a registry on the given registerer. Tests pass a fresh
// prometheus.NewRegistry() for both arguments.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.Transactions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "podnet_transactions_total",
		Help: "Apply transactions by artifact and final outcome",
	}, []string{"artifact", "outcome"})

	r.StepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podnet_transaction_step_seconds",
		Help:    "Duration of validate and activate steps",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"artifact", "step"})

	r.Rollbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "podnet_rollbacks_total",
		Help: "Rollbacks by result (restored, removed, failed)",
	}, []string{"artifact", "result"})

	r.CompiledRules = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "podnet_compiled_rules",
		Help: "Rule lines in the last compiled firewall table",
	}, []string{"namespace", "table"})

	r.TopologySteps = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "podnet_topology_steps_total",
		Help: "Topology construction steps by outcome (executed, skipped, failed)",
	}, []string{"kind", "outcome"})

	r.Verbs = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "podnet_verbs_total",
		Help: "Lifecycle verb invocations by construct and result kind",
	}, []string{"construct", "verb", "result"})

	return r
}

// WriteTextfile writes all gathered metrics to path in the text exposition
// format, for the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	g := r.gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}
