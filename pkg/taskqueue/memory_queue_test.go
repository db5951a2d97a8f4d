// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
)

type transferPayload struct {
	JobID string `json:"job_id"`
}

func TestMemoryQueue_Enqueue(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	payload, err := taskqueue.MarshalPayload(transferPayload{JobID: "job-1"})
	require.NoError(t, err)

	task := &taskqueue.Task{Type: taskqueue.TaskTypeTransfer, Payload: payload}
	require.NoError(t, q.Enqueue(ctx, task))

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, taskqueue.StatusPending, task.Status)
	assert.False(t, task.CreatedAt.IsZero())

	select {
	case <-q.Ready():
	default:
		t.Fatal("enqueue should signal readiness")
	}

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	p, err := taskqueue.UnmarshalPayload[transferPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "job-1", p.JobID)
}

func TestMemoryQueue_Enqueue_DuplicateID(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "job-1", Type: taskqueue.TaskTypeTransfer}))
	err := q.Enqueue(ctx, &taskqueue.Task{ID: "job-1", Type: taskqueue.TaskTypeTransfer})
	assert.ErrorIs(t, err, taskqueue.ErrTaskExists)
}

func TestMemoryQueue_Closed(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), &taskqueue.Task{Type: taskqueue.TaskTypeTransfer})
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)
	_, err = q.Dequeue(context.Background(), "w")
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)
}

func TestMemoryQueue_Dequeue_PriorityThenAge(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "low", Type: taskqueue.TaskTypeTransfer, Priority: taskqueue.PriorityLow, ScheduledAt: base}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "normal-new", Type: taskqueue.TaskTypeTransfer, Priority: taskqueue.PriorityNormal, ScheduledAt: base.Add(2 * time.Second)}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "normal-old", Type: taskqueue.TaskTypeTransfer, Priority: taskqueue.PriorityNormal, ScheduledAt: base.Add(time.Second)}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "high", Type: taskqueue.TaskTypeTransfer, Priority: taskqueue.PriorityHigh, ScheduledAt: base.Add(3 * time.Second)}))

	var order []string
	for {
		task, err := q.Dequeue(ctx, "w")
		require.NoError(t, err)
		if task == nil {
			break
		}
		assert.Equal(t, taskqueue.StatusRunning, task.Status)
		assert.Equal(t, "w", task.WorkerID)
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"high", "normal-old", "normal-new", "low"}, order)
}

func TestMemoryQueue_Dequeue_TypeFilter(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: "other"}))

	task, err := q.Dequeue(ctx, "w", taskqueue.TaskTypeTransfer)
	require.NoError(t, err)
	assert.Nil(t, task)

	task, err = q.Dequeue(ctx, "w", "other")
	require.NoError(t, err)
	require.NotNil(t, task)
}

func TestMemoryQueue_Dequeue_SkipsFutureTasks(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeTransfer, ScheduledAt: time.Now().Add(time.Hour)}))

	task, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryQueue_ReturnsCopies(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t", Type: taskqueue.TaskTypeTransfer}))

	got, err := q.Get(ctx, "t")
	require.NoError(t, err)
	got.Status = taskqueue.StatusCompleted

	again, err := q.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, again.Status)
}

func TestMemoryQueue_Complete(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t", Type: taskqueue.TaskTypeTransfer}))
	_, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, "t"))
	got, err := q.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, q.Complete(ctx, "missing"), taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_Fail_NoRetries(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t", Type: taskqueue.TaskTypeTransfer}))
	_, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, "t", assert.AnError))
	got, err := q.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, assert.AnError.Error(), got.LastError)
}

func TestMemoryQueue_Fail_Retry(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t", Type: taskqueue.TaskTypeTransfer, MaxRetries: 2}))
	_, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, "t", assert.AnError))
	got, err := q.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, got.Status)
	assert.True(t, got.RetryAfter.After(time.Now()))
	assert.Empty(t, got.WorkerID)

	task, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, task, "task should be in backoff")
}

func TestMemoryQueue_Cancel(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t", Type: taskqueue.TaskTypeTransfer, MaxRetries: 3}))

	require.NoError(t, q.Cancel(ctx, "t"))
	task, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, task, "cancelled tasks are never handed out")

	// a late failure does not resurrect it
	require.NoError(t, q.Fail(ctx, "t", assert.AnError))
	got, err := q.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCancelled, got.Status)

	assert.ErrorIs(t, q.Cancel(ctx, "missing"), taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_List(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{
			ID:        fmt.Sprintf("t%d", i),
			Type:      taskqueue.TaskTypeTransfer,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, q.Cancel(ctx, "t1"))

	all, err := q.List(ctx, taskqueue.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "t0", all[0].ID)

	pending, err := q.List(ctx, taskqueue.TaskFilter{Status: taskqueue.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 4)

	page, err := q.List(ctx, taskqueue.TaskFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "t1", page[0].ID)
	assert.Equal(t, "t2", page[1].ID)

	past, err := q.List(ctx, taskqueue.TaskFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestMemoryQueue_Stats(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "a", Type: taskqueue.TaskTypeTransfer}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "b", Type: taskqueue.TaskTypeTransfer}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "c", Type: taskqueue.TaskTypeTransfer}))
	require.NoError(t, q.Cancel(ctx, "c"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Pending)
	assert.EqualValues(t, 1, stats.Cancelled)
	assert.EqualValues(t, 3, stats.ByType[taskqueue.TaskTypeTransfer])
	assert.NotNil(t, stats.OldestPending)
}

func TestMemoryQueue_ThreadSafety(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(ctx, &taskqueue.Task{ID: fmt.Sprintf("t%d", i), Type: taskqueue.TaskTypeTransfer})
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	var mu sync.Mutex
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx, "w")
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50, "each task is handed out exactly once")
}
