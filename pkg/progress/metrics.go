package progress

import (
	"github.com/LeeDigitalWorks/zapload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// samplersActive tracks running sampler goroutines
	samplersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapload",
		Subsystem: "progress",
		Name:      "samplers_active",
		Help:      "Number of active progress sampler goroutines",
	})
)

func init() {
	debug.Registry().MustRegister(
		samplersActive,
	)
}
