// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Executor runs queued jobs: LOCAL copy or move, PULL_TO_STORE and
// PUSH_FROM_STORE against the client's endpoint.
type Executor struct {
	proc   *Processor
	nodes  *nodes.Manager
	client *http.Client
}

var _ taskqueue.Handler = (*Executor)(nil)

// NewExecutor creates an executor. A nil client uses a client without a
// timeout; transfers are bounded by the task context only.
func NewExecutor(proc *Processor, m *nodes.Manager, client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{proc: proc, nodes: m, client: client}
}

func (e *Executor) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeTransfer
}

// Handle runs one job. Jobs that are no longer QUEUED (aborted, or picked
// up elsewhere) are skipped. A failed run leaves the job in ERROR and
// returns the failure to the queue.
func (e *Executor) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}
	job, err := e.proc.Get(ctx, payload.JobID)
	if verrors.IsNotFound(err) {
		logger.Warn().Str("job_id", payload.JobID).Msg("queued job no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if job.State != types.StateQueued {
		logger.Debug().Str("job_id", payload.JobID).Str("state", string(job.State)).Msg("skipping job")
		return nil
	}
	job, err = e.proc.ModifyState(ctx, job, types.StateRun)
	if err != nil {
		// lost the race to another executor or an abort
		logger.Debug().Err(err).Str("job_id", payload.JobID).Msg("job not started")
		return nil
	}

	if err := e.run(ctx, job); err != nil {
		_, err = e.proc.Fail(ctx, job, err)
		return err
	}
	_, err = e.proc.ModifyState(context.WithoutCancel(ctx), job, types.StateCompleted)
	return err
}

func (e *Executor) run(ctx context.Context, job *types.TransferJob) error {
	switch job.Direction {
	case types.DirectionLocal:
		return e.runLocal(ctx, job)
	case types.DirectionPullToStore:
		return e.pullToStore(ctx, job)
	case types.DirectionPushFromStore:
		return e.pushFromStore(ctx, job)
	default:
		return verrors.UnsupportedDirection(string(job.Direction))
	}
}

// runLocal copies the target when bytes are kept, moves it otherwise.
func (e *Executor) runLocal(ctx context.Context, job *types.TransferJob) error {
	n, err := e.nodes.Get(ctx, job.Owner, job.Target.Path)
	if err != nil {
		return err
	}
	dst := job.LocalTarget.Path
	if job.KeepBytes {
		return n.Copy(ctx, dst)
	}
	return n.Move(ctx, dst)
}

// pullToStore GETs the client endpoint into the target node.
func (e *Executor) pullToStore(ctx context.Context, job *types.TransferJob) error {
	endpoint, ok := httpEndpoint(job)
	if !ok {
		return verrors.InvalidArgument("job has no http endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return verrors.InvalidArgument("bad endpoint %q: %v", endpoint, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return verrors.Internal(err, "GET %s", endpoint)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return verrors.Internal(nil, "GET %s: %s", endpoint, resp.Status)
	}

	info, err := StoreInto(ctx, e.nodes, job.Owner, job.Target.Path, resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	BytesTransferredTotal.WithLabelValues(string(job.Direction)).Add(float64(info.Size))
	logger.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("endpoint", endpoint).
		Str("bytes", humanize.Bytes(uint64(info.Size))).
		Msg("pulled into store")
	return nil
}

// pushFromStore PUTs the target's bytes to the client endpoint.
func (e *Executor) pushFromStore(ctx context.Context, job *types.TransferJob) error {
	endpoint, ok := httpEndpoint(job)
	if !ok {
		return verrors.InvalidArgument("job has no http endpoint")
	}
	src, err := OpenSource(ctx, e.nodes, job.Owner, job.Target.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	counter := &countingReader{r: src}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, counter)
	if err != nil {
		return verrors.InvalidArgument("bad endpoint %q: %v", endpoint, err)
	}
	req.Header.Set("Content-Type", src.ContentType)
	if src.Size >= 0 {
		req.ContentLength = src.Size
		if src.Size == 0 {
			req.Body = http.NoBody
		}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return verrors.Internal(err, "PUT %s", endpoint)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return verrors.Internal(nil, "PUT %s: %s", endpoint, resp.Status)
	}

	BytesTransferredTotal.WithLabelValues(string(job.Direction)).Add(float64(counter.n))
	logger.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("endpoint", endpoint).
		Str("bytes", humanize.Bytes(uint64(counter.n))).
		Msg("pushed from store")
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
