package bq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "rm_bq_queue_depth",
	Help: "The current depth of the BQ record buffer",
}, []string{"table"})

var recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_bq_records_processed",
	Help: "The number of records processed",
}, []string{"table"})

var recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_bq_records_dropped",
	Help: "The number of records dropped because the buffer was full",
}, []string{"table"})

var batchSubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rm_bq_batch_submission_duration",
	Help:    "The duration of time it takes to submit a batch of records to BQ",
	Buckets: prometheus.DefBuckets,
}, []string{"table"})

var batchSizeHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rm_bq_batch_size",
	Help:    "The size of a batch of records submitted to BQ",
	Buckets: prometheus.ExponentialBuckets(1, 2, 20),
}, []string{"table"})
