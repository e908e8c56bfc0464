package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_action_runs_total",
	Help: "The number of mutating actions by outcome",
}, []string{"action", "outcome"})
