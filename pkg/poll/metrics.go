package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_poll_fetches_total",
	Help: "The number of poll fetches by adapter and outcome",
}, []string{"adapter", "status"})

var fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rm_poll_fetch_duration_seconds",
	Help:    "The duration of poll fetches",
	Buckets: prometheus.DefBuckets,
}, []string{"adapter"})
