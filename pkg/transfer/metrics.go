// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/vospace/pkg/debug"
)

var (
	JobsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace",
		Subsystem: "transfer",
		Name:      "jobs_submitted_total",
		Help:      "Total number of transfer jobs submitted",
	}, []string{"direction"})

	JobTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace",
		Subsystem: "transfer",
		Name:      "job_transitions_total",
		Help:      "Total number of job state changes by target state",
	}, []string{"state"})

	// JobDuration is observed when a started job reaches a terminal state.
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vospace",
		Subsystem: "transfer",
		Name:      "job_duration_seconds",
		Help:      "Time from RUN to a terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"direction", "state"})

	BytesTransferredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace",
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Payload bytes moved by transfer jobs",
	}, []string{"direction"})
)

func init() {
	debug.Registry().MustRegister(
		JobsSubmittedTotal,
		JobTransitionsTotal,
		JobDuration,
		BytesTransferredTotal,
	)
}
