// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"github.com/LeeDigitalWorks/zapload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	compressionRatio = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zapload",
			Subsystem: "compression",
			Name:      "ratio",
			Help:      "Compression ratio (original_size / compressed_size)",
			Buckets:   []float64{1.0, 1.25, 1.5, 2.0, 3.0, 4.0, 5.0, 10.0},
		},
		[]string{"algorithm"},
	)

	bytesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapload",
			Subsystem: "compression",
			Name:      "bytes_in_total",
			Help:      "Total bytes before compression (original size)",
		},
		[]string{"algorithm"},
	)

	bytesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapload",
			Subsystem: "compression",
			Name:      "bytes_out_total",
			Help:      "Total bytes after compression (compressed size)",
		},
		[]string{"algorithm"},
	)

	skippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapload",
			Subsystem: "compression",
			Name:      "skipped_total",
			Help:      "Payloads stored raw because compression saved no space",
		},
		[]string{"algorithm"},
	)
)

func init() {
	debug.Registry().MustRegister(compressionRatio, bytesIn, bytesOut, skippedTotal)
}

func recordCompression(algo Algorithm, originalSize, compressedSize int) {
	algoStr := algo.String()
	bytesIn.WithLabelValues(algoStr).Add(float64(originalSize))
	bytesOut.WithLabelValues(algoStr).Add(float64(compressedSize))
	compressionRatio.WithLabelValues(algoStr).Observe(CompressionRatio(originalSize, compressedSize))
}

func recordSkipped(algo Algorithm) {
	skippedTotal.WithLabelValues(algo.String()).Inc()
}
