package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_ingest_frames_total",
	Help: "The number of push channel frames received by event kind",
}, []string{"kind"})

var callbackPanics = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_ingest_callback_panics_total",
	Help: "The number of event callbacks that panicked",
}, []string{"kind"})

var reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rm_ingest_reconnect_attempts_total",
	Help: "The number of push channel reconnect attempts",
})

var connected = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rm_ingest_connected",
	Help: "1 while the push channel is connected",
})
