package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_store_events_total",
	Help: "The number of events written to the store by result",
}, []string{"result"})
