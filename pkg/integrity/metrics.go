package integrity

import (
	"github.com/LeeDigitalWorks/zapload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var validationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "integrity",
		Name:      "validations_total",
		Help:      "Validation pipeline runs by outcome",
	},
	[]string{"outcome"},
)

func init() {
	debug.Registry().MustRegister(validationsTotal)
}
