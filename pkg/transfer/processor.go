// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer owns transfer jobs: it accepts job documents, assigns
// identifiers and endpoints, drives the job state machine and executes the
// directions the server performs itself.
//
// State changes for one job are serialized in-process by a striped lock
// keyed on the job id; the metadata store's conditional update catches
// writers in other processes.
package transfer

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/vospace/pkg/events"
	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Config configures a Processor.
type Config struct {
	// AppURL is the public base URL; data channel endpoints are
	// "{AppURL}/data/{jobId}".
	AppURL string

	// Authority resolves bare target paths.
	Authority string
}

// Processor creates and tracks transfer jobs.
type Processor struct {
	jobs    db.JobStore
	queue   taskqueue.Queue
	emitter *events.Emitter
	locks   *utils.StripedLock
	cfg     Config
	now     func() time.Time
}

// NewProcessor creates a processor. queue receives server-executed jobs;
// emitter may be nil.
func NewProcessor(jobs db.JobStore, queue taskqueue.Queue, emitter *events.Emitter, cfg Config) *Processor {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Processor{
		jobs:    jobs,
		queue:   queue,
		emitter: emitter,
		locks:   utils.NewStripedLock(),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AppURL returns the public base URL.
func (p *Processor) AppURL() string { return p.cfg.AppURL }

// DataEndpoint is the HTTP data channel URL of job id.
func (p *Processor) DataEndpoint(id uuid.UUID) string {
	return p.cfg.AppURL + "/data/" + id.String()
}

// taskPayload is the taskqueue payload of a server-executed job.
type taskPayload struct {
	JobID string `json:"job_id"`
}

// Submit parses doc and records a new job for owner. Jobs the server
// executes itself are queued.
func (p *Processor) Submit(ctx context.Context, owner string, doc io.Reader) (*types.TransferJob, error) {
	req, err := ParseRequest(doc)
	if err != nil {
		return nil, err
	}
	return p.SubmitRequest(ctx, owner, req)
}

// SubmitRequest records a job for an already parsed request.
func (p *Processor) SubmitRequest(ctx context.Context, owner string, req *Request) (*types.TransferJob, error) {
	job, err := p.newJob(owner, req)
	if err != nil {
		return nil, err
	}

	if err := p.jobs.InsertJob(ctx, job); err != nil {
		return nil, verrors.Internal(err, "insert job")
	}
	JobsSubmittedTotal.WithLabelValues(string(job.Direction)).Inc()
	p.emitter.Emit(ctx, events.NewJobEvent(job, ""))
	logger.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("owner", owner).
		Str("direction", string(job.Direction)).
		Str("target", job.Target.String()).
		Msg("transfer job submitted")

	if !job.Direction.ExecutesOnServer() {
		return job, nil
	}
	queued, err := p.ModifyState(ctx, job, types.StateQueued)
	if err != nil {
		return nil, err
	}
	if err := p.enqueue(ctx, queued); err != nil {
		return p.Fail(ctx, queued, verrors.Internal(err, "queue job"))
	}
	return queued, nil
}

func (p *Processor) newJob(owner string, req *Request) (*types.TransferJob, error) {
	if req.Target == "" {
		return nil, verrors.InvalidArgument("job has no target")
	}
	target, err := node.ParseIdentifier(req.Target, p.cfg.Authority)
	if err != nil {
		return nil, err
	}
	if req.Direction == "" {
		return nil, verrors.InvalidArgument("job has no direction")
	}

	job := &types.TransferJob{
		ID:        uuid.New(),
		Owner:     owner,
		Target:    target,
		Views:     req.Views,
		KeepBytes: req.KeepBytes,
		State:     types.StatePending,
		CreatedAt: p.now(),
	}

	dir, err := types.ParseDirection(req.Direction)
	switch {
	case err == nil && dir == types.DirectionLocal:
		return nil, verrors.InvalidArgument("LOCAL job has no destination")
	case err == nil:
		job.Direction = dir
	default:
		// a direction that is not a known name is the destination of a
		// node-to-node job
		dst, perr := node.ParseIdentifier(req.Direction, p.cfg.Authority)
		if perr != nil {
			return nil, verrors.InvalidArgument("direction %q is neither a direction nor a node", req.Direction)
		}
		job.Direction = types.DirectionLocal
		job.LocalTarget = dst
	}

	switch {
	case job.Direction.HasDataChannelEndpoint():
		uri := types.ProtocolHTTPPut
		if job.Direction == types.DirectionPullFromStore {
			uri = types.ProtocolHTTPGet
		}
		job.SetProtocol(uri, p.DataEndpoint(job.ID))
	case job.Direction == types.DirectionLocal:
		if job.Target.Path.IsRoot() || job.LocalTarget.Path.IsRoot() {
			return nil, verrors.InvalidArgument("LOCAL jobs move nodes, not the account root")
		}
	default:
		for _, pr := range req.Protocols {
			if pr.URI == "" || pr.Endpoint == "" {
				return nil, verrors.InvalidArgument("protocol %q has no endpoint", pr.URI)
			}
			job.SetProtocol(pr.URI, pr.Endpoint)
		}
		if _, ok := httpEndpoint(job); !ok {
			return nil, verrors.InvalidArgument("%s needs an http endpoint", job.Direction.WireName())
		}
	}
	return job, nil
}

// httpEndpoint returns the first http(s) endpoint the client negotiated.
func httpEndpoint(job *types.TransferJob) (string, bool) {
	for _, p := range job.Protocols {
		if strings.HasPrefix(p.Endpoint, "http://") || strings.HasPrefix(p.Endpoint, "https://") {
			return p.Endpoint, true
		}
	}
	return "", false
}

func (p *Processor) enqueue(ctx context.Context, job *types.TransferJob) error {
	payload, err := taskqueue.MarshalPayload(taskPayload{JobID: job.ID.String()})
	if err != nil {
		return err
	}
	err = p.queue.Enqueue(ctx, &taskqueue.Task{
		ID:       job.ID.String(),
		Type:     taskqueue.TaskTypeTransfer,
		Priority: taskqueue.PriorityNormal,
		Payload:  payload,
	})
	if errors.Is(err, taskqueue.ErrTaskExists) {
		return nil
	}
	return err
}

// Get returns job id. A malformed id is InvalidArgument.
func (p *Processor) Get(ctx context.Context, id string) (*types.TransferJob, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, verrors.InvalidArgument("invalid job id %q", id)
	}
	job, err := p.jobs.GetJob(ctx, uid)
	if errors.Is(err, db.ErrJobNotFound) {
		return nil, verrors.NotFound("job %s not found", uid)
	}
	if err != nil {
		return nil, verrors.Internal(err, "get job %s", uid)
	}
	return job, nil
}

// GetOwned returns job id when it belongs to owner.
func (p *Processor) GetOwned(ctx context.Context, owner, id string) (*types.TransferJob, error) {
	job, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, verrors.PermissionDenied("job %s belongs to another user", job.ID)
	}
	return job, nil
}

// List returns owner's jobs, newest first.
func (p *Processor) List(ctx context.Context, owner string) ([]*types.TransferJob, error) {
	jobs, err := p.jobs.ListJobs(ctx, owner)
	if err != nil {
		return nil, verrors.Internal(err, "list jobs")
	}
	return jobs, nil
}

// ModifyState moves job to state and returns the stored job.
func (p *Processor) ModifyState(ctx context.Context, job *types.TransferJob, state types.JobState) (*types.TransferJob, error) {
	return p.transition(ctx, job.ID, state, "")
}

// Fail moves job to ERROR with cause as its note. The returned error is
// cause unless the transition itself failed.
func (p *Processor) Fail(ctx context.Context, job *types.TransferJob, cause error) (*types.TransferJob, error) {
	note := "unknown error"
	if cause != nil {
		note = cause.Error()
	}
	failed, err := p.transition(context.WithoutCancel(ctx), job.ID, types.StateError, note)
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("job_id", job.ID.String()).
			AnErr("cause", cause).
			Msg("could not mark job failed")
		return nil, err
	}
	return failed, cause
}

// Abort cancels a job that has not started running.
func (p *Processor) Abort(ctx context.Context, job *types.TransferJob) (*types.TransferJob, error) {
	aborted, err := p.transition(ctx, job.ID, types.StateAborted, "aborted by user")
	if err != nil {
		return nil, err
	}
	if job.Direction.ExecutesOnServer() {
		if err := p.queue.Cancel(ctx, job.ID.String()); err != nil && !errors.Is(err, taskqueue.ErrTaskNotFound) {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", job.ID.String()).Msg("cancel queued task")
		}
	}
	return aborted, nil
}

func (p *Processor) transition(ctx context.Context, id uuid.UUID, state types.JobState, note string) (*types.TransferJob, error) {
	unlock := p.locks.Lock(id.String())
	defer unlock()

	prev, err := p.jobs.GetJob(ctx, id)
	if errors.Is(err, db.ErrJobNotFound) {
		return nil, verrors.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, verrors.Internal(err, "get job %s", id)
	}

	next, err := p.jobs.UpdateJobState(ctx, id, state, note, p.now())
	switch {
	case errors.Is(err, db.ErrInvalidState), errors.Is(err, db.ErrStateConflict):
		return nil, &verrors.Error{
			Code:    verrors.CodeInvalidArgument,
			Message: "job " + id.String() + " is " + string(prev.State) + ", cannot move to " + string(state),
			Err:     err,
		}
	case errors.Is(err, db.ErrJobNotFound):
		return nil, verrors.NotFound("job %s not found", id)
	case err != nil:
		return nil, verrors.Internal(err, "update job %s", id)
	}

	JobTransitionsTotal.WithLabelValues(string(state)).Inc()
	if state.IsTerminal() && !next.StartTime.IsZero() {
		JobDuration.WithLabelValues(string(next.Direction), string(state)).
			Observe(next.EndTime.Sub(next.StartTime).Seconds())
	}
	p.emitter.Emit(ctx, events.NewJobEvent(next, prev.State))

	log := logger.Ctx(ctx).Debug()
	if state == types.StateError {
		log = logger.Ctx(ctx).Warn().Str("note", next.Note)
	}
	log.Str("job_id", id.String()).
		Str("direction", string(next.Direction)).
		Str("from", string(prev.State)).
		Str("to", string(state)).
		Msg("job state changed")
	return next, nil
}

// Recover re-queues jobs left QUEUED by a previous run and returns how
// many were queued.
func (p *Processor) Recover(ctx context.Context) (int, error) {
	jobs, err := p.jobs.ListJobsByState(ctx, types.StateQueued)
	if err != nil {
		return 0, verrors.Internal(err, "list queued jobs")
	}
	for _, job := range jobs {
		if err := p.enqueue(ctx, job); err != nil {
			return 0, verrors.Internal(err, "requeue job %s", job.ID)
		}
	}
	if len(jobs) > 0 {
		logger.Info().Int("jobs", len(jobs)).Msg("requeued transfer jobs")
	}
	return len(jobs), nil
}
