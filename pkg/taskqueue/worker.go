// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
)

// Worker runs a fixed pool of goroutines that claim tasks from a Queue and
// dispatch them by type. A handler error or panic is reported to the queue
// through Fail.
type Worker struct {
	id       string
	queue    Queue
	handlers map[TaskType]Handler

	pollInterval time.Duration
	concurrency  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type WorkerConfig struct {
	ID           string
	Queue        Queue
	PollInterval time.Duration
	Concurrency  int
}

// NewWorker applies DefaultPollInterval and DefaultConcurrency to zero fields.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Worker{
		id:           cfg.ID,
		queue:        cfg.Queue,
		handlers:     make(map[TaskType]Handler),
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
	}
}

// RegisterHandler registers a handler for a task type. Handlers must be
// registered before Start.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().Str("type", string(h.Type())).Msg("taskqueue: handler registered")
}

// Start launches the worker goroutines. Handlers run with a context derived
// from ctx that Stop cancels.
func (w *Worker) Start(ctx context.Context) {
	types := w.HandlerTypes()
	if len(types) == 0 {
		logger.Warn().Msg("taskqueue: worker started with no handlers")
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	logger.Info().Str("worker_id", w.id).Int("concurrency", w.concurrency).
		Interface("types", types).Msg("taskqueue: worker starting")

	w.wg.Add(w.concurrency)
	for range w.concurrency {
		go w.work(ctx, types)
	}
}

// Stop cancels running handlers and waits for the goroutines to exit.
func (w *Worker) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
		logger.Info().Str("worker_id", w.id).Msg("taskqueue: worker stopped")
	})
}

func (w *Worker) work(ctx context.Context, types []TaskType) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.Ready():
		case <-ticker.C:
		}
		// drain everything available before waiting again
		for ctx.Err() == nil && w.processOne(ctx, types) {
		}
	}
}

// processOne runs a single task. It reports whether a task was dequeued.
func (w *Worker) processOne(ctx context.Context, types []TaskType) bool {
	task, err := w.queue.Dequeue(ctx, w.id, types...)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrQueueClosed) {
			pollFailures.Inc()
			logger.Error().Err(err).Msg("taskqueue: dequeue failed")
		}
		return false
	}
	if task == nil {
		return false
	}

	log := logger.With().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Int("attempt", task.Attempts).
		Logger()

	handler, ok := w.handlers[task.Type]
	if !ok {
		log.Error().Msg("taskqueue: no handler for task type")
		taskOutcomes.WithLabelValues(string(task.Type), outcomeUnhandled).Inc()
		_ = w.queue.Fail(ctx, task.ID, errors.New("no handler registered"))
		return true
	}

	log.Debug().Msg("taskqueue: processing task")
	busyWorkers.Inc()
	start := time.Now()
	err = safeHandle(ctx, handler, task)
	taskDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
	busyWorkers.Dec()

	// record the outcome even when the worker is stopping
	done := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("taskqueue: task failed")
		taskOutcomes.WithLabelValues(string(task.Type), outcomeFailed).Inc()
		if ferr := w.queue.Fail(done, task.ID, err); ferr != nil {
			log.Error().Err(ferr).Msg("taskqueue: recording failure")
		}
		return true
	}
	log.Debug().Msg("taskqueue: task completed")
	taskOutcomes.WithLabelValues(string(task.Type), outcomeCompleted).Inc()
	if cerr := w.queue.Complete(done, task.ID); cerr != nil {
		log.Error().Err(cerr).Msg("taskqueue: recording completion")
	}
	return true
}

func safeHandle(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}

func (w *Worker) Queue() Queue { return w.queue }

// HandlerTypes returns the task types this worker handles, sorted.
func (w *Worker) HandlerTypes() []TaskType {
	return slices.Sorted(maps.Keys(w.handlers))
}
