package subgraph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_subgraph_queries_total",
	Help: "The number of subgraph queries by mapping and status",
}, []string{"mapping", "status"})

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rm_subgraph_query_duration_seconds",
	Help:    "The duration of subgraph queries",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
}, []string{"mapping"})
