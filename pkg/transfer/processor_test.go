// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/vospace/pkg/events"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const testAuthority = "test!vospace"

type fixture struct {
	proc  *Processor
	store *memory.DB
	queue *taskqueue.MemoryQueue
}

func newFixture(t *testing.T, emitter *events.Emitter) *fixture {
	t.Helper()
	store := memory.New()
	q := taskqueue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	proc := NewProcessor(store, q, emitter, Config{
		AppURL:    "http://vos.example/",
		Authority: testAuthority,
	})
	return &fixture{proc: proc, store: store, queue: q}
}

func jobDoc(target, direction string, protocols ...types.Protocol) string {
	var b strings.Builder
	b.WriteString(`<vos:transfer xmlns:vos="http://www.ivoa.net/xml/VOSpace/v2.0">`)
	b.WriteString("<vos:target>" + target + "</vos:target>")
	b.WriteString("<vos:direction>" + direction + "</vos:direction>")
	for _, p := range protocols {
		b.WriteString(`<vos:protocol uri="` + p.URI + `">`)
		if p.Endpoint != "" {
			b.WriteString("<vos:protocolEndpoint>" + p.Endpoint + "</vos:protocolEndpoint>")
		}
		b.WriteString("</vos:protocol>")
	}
	b.WriteString("</vos:transfer>")
	return b.String()
}

func (f *fixture) submit(t *testing.T, owner, doc string) *types.TransferJob {
	t.Helper()
	job, err := f.proc.Submit(context.Background(), owner, strings.NewReader(doc))
	require.NoError(t, err)
	return job
}

func TestSubmit_DataChannelDirections(t *testing.T) {
	f := newFixture(t, nil)

	push := f.submit(t, "alice", jobDoc("/c1/f.fits", "pushToVoSpace",
		types.Protocol{URI: types.ProtocolHTTPPut, Endpoint: "http://ignored.example"},
		types.Protocol{URI: types.ProtocolBulk, Endpoint: "bulk.example:9000"}))
	assert.Equal(t, types.DirectionPushToStore, push.Direction)
	assert.Equal(t, types.StatePending, push.State)
	assert.Equal(t, testAuthority, push.Target.Authority)
	assert.Equal(t, []types.Protocol{{URI: types.ProtocolHTTPPut, Endpoint: "http://vos.example/data/" + push.ID.String()}}, push.Protocols)

	pull := f.submit(t, "alice", jobDoc("vos://test!vospace/c1/f.fits", "pullFromVoSpace",
		types.Protocol{URI: types.ProtocolBulk}))
	assert.Equal(t, types.DirectionPullFromStore, pull.Direction)
	// one data channel entry even when the client also asks for bulk
	assert.Equal(t, []types.Protocol{{URI: types.ProtocolHTTPGet, Endpoint: "http://vos.example/data/" + pull.ID.String()}}, pull.Protocols)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending, "client-driven jobs are not queued")

	stored, err := f.proc.Get(context.Background(), push.ID.String())
	require.NoError(t, err)
	assert.Equal(t, push, stored)
}

func TestSubmit_ServerDirectionsAreQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	job := f.submit(t, "alice", jobDoc("/c1/f.fits", "pullToVoSpace",
		types.Protocol{URI: types.ProtocolHTTPGet, Endpoint: "https://source.example/f.fits"}))
	assert.Equal(t, types.StateQueued, job.State)
	assert.Equal(t, []types.Protocol{{URI: types.ProtocolHTTPGet, Endpoint: "https://source.example/f.fits"}}, job.Protocols)

	task, err := f.queue.Get(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskTypeTransfer, task.Type)
	payload, err := taskqueue.UnmarshalPayload[taskPayload](task.Payload)
	require.NoError(t, err)
	assert.Equal(t, job.ID.String(), payload.JobID)
}

func TestSubmit_Local(t *testing.T) {
	f := newFixture(t, nil)

	job := f.submit(t, "alice", jobDoc("/c1/f.fits", "vos://test!vospace/c2/g.fits"))
	assert.Equal(t, types.DirectionLocal, job.Direction)
	assert.Equal(t, node.MustParsePath("/c2/g.fits"), job.LocalTarget.Path)
	assert.Equal(t, types.StateQueued, job.State)
	assert.Empty(t, job.Protocols)
}

func TestSubmit_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	tests := map[string]string{
		"no target":         jobDoc("", "pushToVoSpace"),
		"no direction":      jobDoc("/c1/f", ""),
		"bare LOCAL":        jobDoc("/c1/f", "LOCAL"),
		"bad direction":     jobDoc("/c1/f", "sideways://x"),
		"local root":        jobDoc("/c1/f", "/"),
		"missing endpoint":  jobDoc("/c1/f", "pullToVoSpace", types.Protocol{URI: types.ProtocolHTTPGet}),
		"non-http endpoint": jobDoc("/c1/f", "pushFromVoSpace", types.Protocol{URI: "x", Endpoint: "ftp://host/f"}),
		"not a document":    "hello",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.proc.Submit(context.Background(), "alice", strings.NewReader(doc))
			require.Error(t, err)
			assert.Contains(t, []verrors.Code{verrors.CodeInvalidArgument, verrors.CodeInvalidPath}, verrors.CodeOf(err), "got %v", err)
		})
	}

	jobs, err := f.proc.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	job := f.submit(t, "alice", jobDoc("/c1/f", "pushToVoSpace"))

	_, err := f.proc.Get(ctx, "not-a-uuid")
	assert.True(t, verrors.Is(err, verrors.CodeInvalidArgument))

	_, err = f.proc.Get(ctx, "6f1c2a9e-3f43-4b1e-9d6e-1a2b3c4d5e6f")
	assert.True(t, verrors.IsNotFound(err))

	got, err := f.proc.GetOwned(ctx, "alice", job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.proc.GetOwned(ctx, "bob", job.ID.String())
	assert.True(t, verrors.IsPermissionDenied(err))
}

func TestList_NewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.proc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first := f.submit(t, "alice", jobDoc("/c1/a", "pushToVoSpace"))
	second := f.submit(t, "alice", jobDoc("/c1/b", "pushToVoSpace"))
	f.submit(t, "bob", jobDoc("/c1/c", "pushToVoSpace"))

	jobs, err := f.proc.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestModifyState_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	job := f.submit(t, "alice", jobDoc("/c1/f", "pushToVoSpace"))

	running, err := f.proc.ModifyState(ctx, job, types.StateRun)
	require.NoError(t, err)
	assert.False(t, running.StartTime.IsZero())
	assert.True(t, running.EndTime.IsZero())

	_, err = f.proc.ModifyState(ctx, job, types.StateQueued)
	assert.True(t, verrors.Is(err, verrors.CodeInvalidArgument), "RUN cannot go back to QUEUED")

	done, err := f.proc.ModifyState(ctx, job, types.StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, done.State)
	assert.False(t, done.EndTime.Before(done.StartTime))

	_, err = f.proc.Abort(ctx, done)
	assert.True(t, verrors.Is(err, verrors.CodeInvalidArgument), "terminal jobs cannot be aborted")
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	job := f.submit(t, "alice", jobDoc("/c1/f", "pushToVoSpace"))

	cause := errors.New("client went away")
	failed, err := f.proc.Fail(ctx, job, cause)
	assert.ErrorIs(t, err, cause)
	require.NotNil(t, failed)
	assert.Equal(t, types.StateError, failed.State)
	assert.Equal(t, "client went away", failed.Note)
	assert.Equal(t, "client went away", ErrorText(failed))
}

func TestAbort_CancelsQueuedTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	job := f.submit(t, "alice", jobDoc("/c1/f", "/c2/f"))

	aborted, err := f.proc.Abort(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, types.StateAborted, aborted.State)
	assert.Equal(t, "aborted by user", aborted.Note)

	task, err := f.queue.Get(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCancelled, task.Status)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	job := f.submit(t, "alice", jobDoc("/c1/f", "/c2/f"))
	f.submit(t, "alice", jobDoc("/c1/g", "pushToVoSpace"))

	// a fresh queue, as after a restart
	q := taskqueue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	restarted := NewProcessor(f.store, q, nil, Config{AppURL: "http://vos.example", Authority: testAuthority})

	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = q.Get(ctx, job.ID.String())
	require.NoError(t, err)

	n, err = restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "already queued tasks are not duplicated")
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestSubmit_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	evq := taskqueue.NewMemoryQueue()
	t.Cleanup(func() { _ = evq.Close() })
	f := newFixture(t, events.NewEmitter(events.EmitterConfig{Queue: evq, Enabled: true, Region: "east"}))

	job := f.submit(t, "alice", jobDoc("/c1/f", "/c2/f"))

	tasks, err := evq.List(ctx, taskqueue.TaskFilter{Type: taskqueue.TaskTypeEvent})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var names []string
	for _, task := range tasks {
		ev, err := taskqueue.UnmarshalPayload[events.JobEvent](task.Payload)
		require.NoError(t, err)
		assert.Equal(t, job.ID.String(), ev.JobID)
		assert.Equal(t, "east", ev.Region)
		names = append(names, ev.EventName)
	}
	assert.ElementsMatch(t, []string{string(events.EventJobCreated), string(events.EventJobState)}, names)
}
