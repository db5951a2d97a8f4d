// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/vospace/pkg/debug"
)

const metricsSubsystem = "taskqueue"

// Outcome labels for taskOutcomes.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeUnhandled = "no_handler"
)

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vospace", Subsystem: metricsSubsystem, Name: name, Help: help,
	}, labels)
}

var (
	taskOutcomes = newCounterVec("tasks_processed_total",
		"Tasks handled by a worker, by task type and outcome", "type", "outcome")
	taskEnqueued = newCounterVec("tasks_enqueued_total",
		"Tasks accepted by the queue", "type")
	taskRetried = newCounterVec("task_retries_total",
		"Failed tasks put back for another attempt", "type")

	// Transfer jobs can run for many minutes, hence the long tail.
	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vospace",
		Subsystem: metricsSubsystem,
		Name:      "task_duration_seconds",
		Help:      "Wall time of a single handler invocation",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
	}, []string{"type"})

	queueGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vospace",
		Subsystem: metricsSubsystem,
		Name:      "queue_depth",
		Help:      "Tasks held by the queue, by status, as of the last Stats call",
	}, []string{"status"})

	busyWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vospace",
		Subsystem: metricsSubsystem,
		Name:      "workers_busy",
		Help:      "Workers currently inside a handler",
	})

	pollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vospace",
		Subsystem: metricsSubsystem,
		Name:      "dequeue_errors_total",
		Help:      "Dequeue calls that returned an error",
	})
)

func init() {
	debug.Registry().MustRegister(taskOutcomes, taskEnqueued, taskRetried,
		taskDuration, queueGauge, busyWorkers, pollFailures)
}
