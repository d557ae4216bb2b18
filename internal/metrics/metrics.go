// Package metrics exposes Prometheus collectors for query execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts Get/Find executions by store, operation and status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_executions_total",
			Help: "Total number of query executions",
		},
		[]string{"store", "operation", "status"},
	)
	// ExecutionDuration is the latency of Get/Find including relation loading.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunquery_execution_duration_seconds",
			Help:    "Query execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)
	// RecordsReturned observes result sizes.
	RecordsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunquery_records_returned",
			Help:    "Number of records returned per execution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"store"},
	)
	// RelationLoadsTotal counts relation resolutions by relation kind and status.
	RelationLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_relation_loads_total",
			Help: "Total number of relation resolutions",
		},
		[]string{"kind", "status"},
	)
)

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveExecution records one finished execution.
func ObserveExecution(store, operation string, started time.Time, returned int, err error) {
	ExecutionsTotal.WithLabelValues(store, operation, Status(err)).Inc()
	ExecutionDuration.WithLabelValues(store, operation).Observe(time.Since(started).Seconds())
	if err == nil {
		RecordsReturned.WithLabelValues(store).Observe(float64(returned))
	}
}
