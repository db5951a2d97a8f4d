// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskExists     = errors.New("task already exists")
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Queue stores tasks between the API goroutines that submit work and the
// Worker that runs it. Transfer tasks use the job ID as task ID, so a job
// is queued at most once.
type Queue interface {
	// Enqueue fails with ErrTaskExists when task.ID is already taken. An
	// empty ID is filled in.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the best ready task of one of taskTypes (any type when
	// none are given). It returns nil, nil when nothing is ready.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	Complete(ctx context.Context, taskID string) error

	// Fail re-queues the task after a backoff of 1s, 2s, 4s... while
	// retries remain, then dead-letters it.
	Fail(ctx context.Context, taskID string, err error) error

	// Cancel makes the task terminal. A running handler is not interrupted
	// but its outcome is discarded.
	Cancel(ctx context.Context, taskID string) error

	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup forgets terminal tasks that finished before now-olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Ready wakes idle workers after an Enqueue.
	Ready() <-chan struct{}

	Close() error
}

// Handler runs every task of one TaskType.
type Handler interface {
	Type() TaskType
	Handle(ctx context.Context, task *Task) error
}

// HandlerFunc builds a Handler from a plain function.
type HandlerFunc struct {
	TaskType TaskType
	Fn       func(ctx context.Context, task *Task) error
}

func (h HandlerFunc) Type() TaskType { return h.TaskType }

func (h HandlerFunc) Handle(ctx context.Context, task *Task) error { return h.Fn(ctx, task) }
