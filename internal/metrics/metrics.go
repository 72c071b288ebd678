// Package metrics exposes governance counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Decisions counts enforcement outcomes by decision.
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capwatch_decisions_total",
			Help: "Total enforcement decisions by outcome",
		},
		[]string{"decision"},
	)

	// Violations counts detected violations by severity and category.
	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capwatch_violations_total",
			Help: "Total detected violations by severity and category",
		},
		[]string{"severity", "category"},
	)

	// DroppedViolations counts violations dropped because the async
	// persistence queue was full.
	DroppedViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capwatch_violations_dropped_total",
			Help: "Violations dropped due to a full persistence queue",
		},
	)

	// GraphNodes tracks the size of the current graph snapshot.
	GraphNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capwatch_graph_nodes",
			Help: "Node count of the current capability graph snapshot",
		},
	)

	// GraphEdges tracks the edge count of the current graph snapshot.
	GraphEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capwatch_graph_edges",
			Help: "Edge count of the current capability graph snapshot",
		},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(Decisions)
	prometheus.MustRegister(Violations)
	prometheus.MustRegister(DroppedViolations)
	prometheus.MustRegister(GraphNodes)
	prometheus.MustRegister(GraphEdges)
}
