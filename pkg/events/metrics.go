// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/zapload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// eventsPublished tracks total events published by event type
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of lifecycle events published",
	}, []string{"event_type"}) // event_type: "upload:StatusChanged", etc.

	// eventsDropped tracks events skipped because a subscriber buffer was full
	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapload",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of lifecycle events dropped by slow subscribers",
	}, []string{"event_type"})
)

func init() {
	debug.Registry().MustRegister(
		eventsPublished,
		eventsDropped,
	)
}
