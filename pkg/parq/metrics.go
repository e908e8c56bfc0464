package parq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsQueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rm_parquet_records_queued_total",
	Help: "The number of events queued for the parquet archive",
})

var filesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rm_parquet_files_written_total",
	Help: "The number of parquet files written",
})
