// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue runs the service's background work: transfer jobs the
// server executes itself (local copy and move, server-side pull and push)
// and delivery of job events. Tasks live in memory only. The durable job
// record is in the metadata store, and queued jobs are re-enqueued at
// startup.
package taskqueue

import (
	"encoding/json"
	"time"
)

const (
	DefaultPollInterval = time.Second
	DefaultConcurrency  = 4
)

// TaskType routes a task to its handler.
type TaskType string

const (
	TaskTypeTransfer TaskType = "transfer"
	TaskTypeEvent    TaskType = "event"
)

type TaskStatus string

// A task moves pending -> running -> completed, or back to pending for a
// retry, or ends in dead_letter once retries run out. cancelled is terminal
// and wins over a concurrent failure.
const (
	StatusPending    TaskStatus = "pending"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusDeadLetter TaskStatus = "dead_letter"
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority orders ready tasks; higher runs first.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0 // event delivery
	PriorityNormal TaskPriority = 5 // transfers
	PriorityHigh   TaskPriority = 10
)

type Task struct {
	ID       string
	Type     TaskType
	Status   TaskStatus
	Priority TaskPriority
	Payload  json.RawMessage

	// ScheduledAt and RetryAfter both hold a task back until they pass.
	ScheduledAt time.Time
	RetryAfter  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Attempts counts failures; once it exceeds MaxRetries the task is
	// dead-lettered.
	Attempts   int
	MaxRetries int
	LastError  string
	WorkerID   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskFilter selects tasks for List. Zero fields match everything.
type TaskFilter struct {
	Type   TaskType
	Status TaskStatus
	Limit  int
	Offset int
}

// QueueStats is a point-in-time census of the queue.
type QueueStats struct {
	Pending, Running, Completed, DeadLetter, Cancelled int64

	ByType        map[TaskType]int64
	OldestPending *time.Time
}

func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload decodes a task payload into a T.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, err
	}
	return v, nil
}
