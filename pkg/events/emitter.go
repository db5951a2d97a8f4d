// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
)

// deliveryRetries is how often a failed delivery is retried.
const deliveryRetries = 3

// Emitter queues job events for async delivery via the taskqueue.
// A nil *Emitter drops everything.
type Emitter struct {
	queue   taskqueue.Queue
	enabled bool
	region  string
	now     func() time.Time

	sequencer atomic.Uint64
}

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Queue holds events until delivery. If nil, events are dropped.
	Queue taskqueue.Queue

	// Enabled controls whether events are queued.
	Enabled bool

	// Region is stamped on every event.
	Region string
}

// NewEmitter creates an event emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	return &Emitter{
		queue:   cfg.Queue,
		enabled: cfg.Enabled && cfg.Queue != nil,
		region:  cfg.Region,
		now:     time.Now,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{}
}

// Emit queues ev for delivery and returns immediately. Failures are
// logged, never returned, so job processing does not depend on delivery.
func (e *Emitter) Emit(ctx context.Context, ev *JobEvent) {
	if e == nil || !e.enabled {
		dropped.Inc()
		return
	}

	if ev.Sequencer == "" {
		ev.Sequencer = e.nextSequencer()
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = e.now().UTC()
	}
	if ev.Region == "" {
		ev.Region = e.region
	}

	data, err := taskqueue.MarshalPayload(ev)
	if err != nil {
		emitFailures.WithLabelValues(failMarshal).Inc()
		logger.Warn().Err(err).Str("event", ev.EventName).Str("job_id", ev.JobID).Msg("failed to marshal job event")
		return
	}

	task := &taskqueue.Task{
		ID:         uuid.New().String(),
		Type:       taskqueue.TaskTypeEvent,
		Priority:   taskqueue.PriorityLow,
		Payload:    data,
		MaxRetries: deliveryRetries,
	}
	if err := e.queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		emitFailures.WithLabelValues(failEnqueue).Inc()
		logger.Warn().
			Err(err).
			Str("event", ev.EventName).
			Str("job_id", ev.JobID).
			Msg("failed to queue job event")
		return
	}

	emitted.WithLabelValues(ev.EventName).Inc()
	logger.Debug().
		Str("event", ev.EventName).
		Str("job_id", ev.JobID).
		Str("state", ev.State).
		Str("task_id", task.ID).
		Msg("queued job event")
}

// IsEnabled returns whether the emitter is enabled.
func (e *Emitter) IsEnabled() bool {
	return e != nil && e.enabled
}

// nextSequencer returns a unique, monotonically increasing value:
// hex(timestamp_ms) + hex(counter) + random suffix.
func (e *Emitter) nextSequencer() string {
	ts := e.now().UnixMilli()
	seq := e.sequencer.Add(1)

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)

	return hex.EncodeToString([]byte{
		byte(ts >> 40), byte(ts >> 32), byte(ts >> 24), byte(ts >> 16),
		byte(ts >> 8), byte(ts),
		byte(seq >> 8), byte(seq),
	}) + hex.EncodeToString(suffix)
}
