// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/vospace/pkg/debug"
)

// Emission failure reasons.
const (
	failMarshal = "marshal"
	failEnqueue = "enqueue"
)

var (
	emitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace", Subsystem: "events", Name: "emitted_total",
		Help: "Job lifecycle events handed to the delivery queue",
	}, []string{"event_type"})

	dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vospace", Subsystem: "events", Name: "dropped_total",
		Help: "Job lifecycle events discarded because emission is off",
	})

	emitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace", Subsystem: "events", Name: "errors_total",
		Help: "Job lifecycle events that could not be queued",
	}, []string{"reason"})

	// Delivery metrics are labelled with Publisher.Name().
	delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace", Subsystem: "events", Name: "delivered_total",
		Help: "Events accepted by a downstream publisher",
	}, []string{"publisher"})

	deliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace", Subsystem: "events", Name: "delivery_errors_total",
		Help: "Publish calls that returned an error",
	}, []string{"publisher"})

	deliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vospace", Subsystem: "events", Name: "delivery_duration_seconds",
		Help:    "Latency of a single publish call",
		Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 10),
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(emitted, dropped, emitFailures,
		delivered, deliveryFailures, deliveryLatency)
}
