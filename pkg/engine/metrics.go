package engine

import (
	"github.com/LeeDigitalWorks/zapload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapload",
			Subsystem: "engine",
			Name:      "status_transitions_total",
			Help:      "Upload state machine transitions",
		},
		[]string{"from", "to"},
	)

	activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapload",
		Subsystem: "engine",
		Name:      "active_runs",
		Help:      "Chunk loops currently running",
	})

	chunksUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "engine",
		Name:      "chunks_uploaded_total",
		Help:      "Chunks acknowledged by the backend",
	})

	bytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "engine",
		Name:      "bytes_uploaded_total",
		Help:      "Payload bytes acknowledged by the backend",
	})

	chunkRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "engine",
		Name:      "chunk_retries_total",
		Help:      "Failed upload attempts counted against retry budgets",
	})

	abortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "engine",
		Name:      "aborts_total",
		Help:      "Backend multipart sessions aborted",
	})
)

func init() {
	debug.Registry().MustRegister(
		statusTransitions,
		activeRuns,
		chunksUploaded,
		bytesUploaded,
		chunkRetries,
		abortsTotal,
	)
}
