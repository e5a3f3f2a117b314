package registry

import (
	"github.com/LeeDigitalWorks/zapload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// recordsGauge tracks the number of live upload records
	recordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapload",
		Subsystem: "registry",
		Name:      "records",
		Help:      "Current number of upload records",
	})

	// mirrorFailures tracks failed session store writes
	mirrorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "registry",
		Name:      "mirror_failures_total",
		Help:      "Total number of failed session store mirrors",
	})
)

func init() {
	debug.Registry().MustRegister(
		recordsGauge,
		mirrorFailures,
	)
}
