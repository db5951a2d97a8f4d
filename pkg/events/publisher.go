// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
)

// Publisher is a destination for job events.
type Publisher interface {
	// Name returns the publisher identifier (e.g., "redis", "kafka").
	Name() string

	// Publish sends one encoded event. key groups events of one owner.
	Publish(ctx context.Context, key string, event []byte) error

	Close() error
}

// NewPublishers builds the publishers enabled in cfg. On error the ones
// already built are closed.
func NewPublishers(cfg Config) ([]Publisher, error) {
	var pubs []Publisher
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			closeAll(pubs)
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

func closeAll(pubs []Publisher) {
	for _, p := range pubs {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Str("publisher", p.Name()).Msg("closing event publisher")
		}
	}
}

// DeliveryHandler delivers queued events to every publisher.
type DeliveryHandler struct {
	publishers []Publisher
	filter     EventType
}

var _ taskqueue.Handler = (*DeliveryHandler)(nil)

// NewDeliveryHandler creates a handler publishing events that match filter.
// An empty filter matches every job event.
func NewDeliveryHandler(publishers []Publisher, filter EventType) *DeliveryHandler {
	if filter == "" {
		filter = EventJob
	}
	return &DeliveryHandler{publishers: publishers, filter: filter}
}

func (h *DeliveryHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeEvent
}

// Handle publishes the event. A malformed payload is dropped; a publisher
// failure is returned so the queue retries the task.
func (h *DeliveryHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	ev, err := taskqueue.UnmarshalPayload[JobEvent](task.Payload)
	if err != nil {
		logger.Warn().Err(err).Str("task_id", task.ID).Msg("dropping malformed job event")
		return nil
	}
	if !MatchesEventType(h.filter, ev.EventName) {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}

	var errs []error
	for _, pub := range h.publishers {
		start := time.Now()
		if err := pub.Publish(ctx, ev.Owner, data); err != nil {
			deliveryFailures.WithLabelValues(pub.Name()).Inc()
			logger.Warn().
				Err(err).
				Str("publisher", pub.Name()).
				Str("job_id", ev.JobID).
				Msg("event delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
			continue
		}
		deliveryLatency.WithLabelValues(pub.Name()).Observe(time.Since(start).Seconds())
		delivered.WithLabelValues(pub.Name()).Inc()
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (h *DeliveryHandler) Close() {
	closeAll(h.publishers)
}
