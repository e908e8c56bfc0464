package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bufferSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rm_event_buffer_size",
	Help: "The number of events held in the recent events buffer",
})
