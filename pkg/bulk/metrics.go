// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bulk

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/vospace/pkg/debug"
)

var (
	// ConnectionsTotal counts handled connections by outcome:
	// completed, failed, rejected.
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace",
		Subsystem: "bulk",
		Name:      "connections_total",
		Help:      "Bulk connections by outcome",
	}, []string{"direction", "result"})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vospace",
		Subsystem: "bulk",
		Name:      "active_connections",
		Help:      "Bulk connections being served",
	})

	BytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace",
		Subsystem: "bulk",
		Name:      "bytes_total",
		Help:      "Payload bytes moved over the bulk channel",
	}, []string{"direction"})

	StreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vospace",
		Subsystem: "bulk",
		Name:      "stream_duration_seconds",
		Help:      "Time spent streaming one payload",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"direction"})
)

func init() {
	debug.Registry().MustRegister(
		ConnectionsTotal,
		ActiveConnections,
		BytesTotal,
		StreamDuration,
	)
}
