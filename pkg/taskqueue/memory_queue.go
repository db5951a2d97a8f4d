// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue keeps tasks in a map. Pending tasks are handed out highest
// priority first, then oldest first.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	ready  chan struct{}
	closed bool
	now    func() time.Time
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks: make(map[string]*Task),
		ready: make(chan struct{}, 1),
		now:   time.Now,
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Ready() <-chan struct{} { return q.ready }

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	} else if _, ok := q.tasks[task.ID]; ok {
		return ErrTaskExists
	}

	now := q.now()
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	q.tasks[task.ID] = task

	taskEnqueued.WithLabelValues(string(task.Type)).Inc()
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.now()
	var best *Task
	for _, task := range q.tasks {
		if task.Status != StatusPending || task.ScheduledAt.After(now) {
			continue
		}
		if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
			continue
		}
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, task.Type) {
			continue
		}
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusRunning
	best.WorkerID = workerID
	started := now
	best.StartedAt = &started
	best.UpdatedAt = now
	return copyTask(best), nil
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	return q.finish(taskID, StatusCompleted)
}

func (q *MemoryQueue) Cancel(ctx context.Context, taskID string) error {
	return q.finish(taskID, StatusCancelled)
}

func (q *MemoryQueue) finish(taskID string, status TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := q.now()
	task.Status = status
	task.CompletedAt = &now
	task.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	// cancelled while running: keep it cancelled
	if task.Status == StatusCancelled {
		return nil
	}

	now := q.now()
	task.Attempts++
	task.LastError = err.Error()
	task.UpdatedAt = now

	if task.Attempts > task.MaxRetries {
		task.Status = StatusDeadLetter
		task.CompletedAt = &now
		return nil
	}
	// Exponential backoff: 1s, 2s, 4s, 8s...
	backoff := time.Duration(1<<(task.Attempts-1)) * time.Second
	task.RetryAfter = now.Add(backoff)
	task.Status = StatusPending
	task.WorkerID = ""
	taskRetried.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(task), nil
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, copyTask(task))
	}
	slices.SortFunc(result, func(a, b *Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{ByType: make(map[TaskType]int64)}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
			if stats.OldestPending == nil || task.ScheduledAt.Before(*stats.OldestPending) {
				t := task.ScheduledAt
				stats.OldestPending = &t
			}
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusDeadLetter:
			stats.DeadLetter++
		case StatusCancelled:
			stats.Cancelled++
		}
		stats.ByType[task.Type]++
	}

	queueGauge.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	queueGauge.WithLabelValues(string(StatusRunning)).Set(float64(stats.Running))
	queueGauge.WithLabelValues(string(StatusDeadLetter)).Set(float64(stats.DeadLetter))
	return stats, nil
}

// Cleanup drops finished tasks whose completion is older than olderThan.
func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	count := 0
	for id, task := range q.tasks {
		switch task.Status {
		case StatusCompleted, StatusCancelled, StatusDeadLetter:
			if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
				delete(q.tasks, id)
				count++
			}
		}
	}
	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func copyTask(t *Task) *Task {
	c := *t
	c.Payload = slices.Clone(t.Payload)
	return &c
}
