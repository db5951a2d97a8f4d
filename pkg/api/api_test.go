// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/LeeDigitalWorks/vospace/pkg/auth"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/distributed"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/storage/backend"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
	"github.com/LeeDigitalWorks/vospace/pkg/transfer"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const appURL = "http://vos.example"

type env struct {
	router http.Handler
	proc   *transfer.Processor
	nodes  *nodes.Manager
	queue  *taskqueue.MemoryQueue
}

func newEnv(t *testing.T) *env {
	t.Helper()
	registry := regions.NewStatic(regions.Config{
		Name:  "east",
		URL:   "http://east.example",
		Peers: []regions.Peer{{Name: "west", URL: "http://west.example"}},
	})
	store := distributed.New(memory.New(), registry)
	q := taskqueue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	m := nodes.NewManager(store, backend.NewMemoryStorage(), "test!vospace")
	proc := transfer.NewProcessor(store, q, nil, transfer.Config{
		AppURL:    appURL,
		Authority: "test!vospace",
	})
	a, err := auth.New(auth.Config{TrustHeaders: true})
	require.NoError(t, err)

	return &env{
		router: NewRouter(Deps{Processor: proc, Nodes: m, Auth: a, Regions: registry}),
		proc:   proc,
		nodes:  m,
		queue:  q,
	}
}

// do sends a request as user; write grants write permission.
func (e *env) do(t *testing.T, method, target, user string, write bool, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if user != "" {
		req.Header.Set(auth.HeaderUser, user)
		if write {
			req.Header.Set(auth.HeaderWrite, "true")
		}
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) mkdir(t *testing.T, owner, p string) {
	t.Helper()
	_, err := e.nodes.CreateParent(context.Background(), owner, node.MustParsePath(p), node.TypeContainer)
	require.NoError(t, err)
}

func (e *env) put(t *testing.T, owner, p, content string) {
	t.Helper()
	ctx := context.Background()
	_, err := transfer.StoreInto(ctx, e.nodes, owner, node.MustParsePath(p), strings.NewReader(content), int64(len(content)), "text/plain")
	require.NoError(t, err)
}

func transferDoc(target, direction string) string {
	return `<vos:transfer xmlns:vos="http://www.ivoa.net/xml/VOSpace/v2.0">` +
		"<vos:target>" + target + "</vos:target>" +
		"<vos:direction>" + direction + "</vos:direction>" +
		"</vos:transfer>"
}

// submit posts a transfer and returns the job ID from the redirect.
func (e *env) submit(t *testing.T, user, doc string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/transfers", user, true, doc)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, appURL+"/transfers/"), loc)
	return strings.TrimPrefix(loc, appURL+"/transfers/")
}

func (e *env) job(t *testing.T, id string) *types.TransferJob {
	t.Helper()
	job, err := e.proc.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestUnauthenticated(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/transfers", "", false, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPushToStore_DataChannel(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")

	id := e.submit(t, "alice", transferDoc("/c1/f.txt", "pushToVoSpace"))
	job := e.job(t, id)
	assert.Equal(t, types.StatePending, job.State)
	require.Len(t, job.Protocols, 1)
	assert.Equal(t, appURL+"/data/"+id, job.Protocols[0].Endpoint)

	req := httptest.NewRequest(http.MethodPut, "/data/"+id, strings.NewReader("hello world"))
	req.Header.Set(auth.HeaderUser, "alice")
	req.Header.Set(auth.HeaderWrite, "true")
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, types.StateCompleted, e.job(t, id).State)

	rec = e.do(t, http.MethodGet, "/nodes/c1/f.txt", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view nodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "data", view.Type)
	assert.Equal(t, int64(11), view.Size)
	assert.Equal(t, "text/plain", view.ContentType)
	assert.Equal(t, "vos://test!vospace/c1/f.txt", view.URI)
}

func TestPullFromStore_DataChannel(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")
	e.put(t, "alice", "/c1/f.txt", "payload")

	id := e.submit(t, "alice", transferDoc("/c1/f.txt", "pullFromVoSpace"))
	rec := e.do(t, http.MethodGet, "/data/"+id, "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="f.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, types.StateCompleted, e.job(t, id).State)

	rec = e.do(t, http.MethodGet, "/data/"+id, "alice", false, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a finished job cannot be restarted")
}

func TestPullFromStore_MissingNodeFailsJob(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")

	id := e.submit(t, "alice", transferDoc("/c1/missing", "pullFromVoSpace"))
	rec := e.do(t, http.MethodGet, "/data/"+id, "alice", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", rec.Header().Get("X-Vospace-Error"))

	job := e.job(t, id)
	assert.Equal(t, types.StateError, job.State)
	assert.NotEmpty(t, job.Note)
}

func TestData_Rejects(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")
	e.put(t, "alice", "/c1/f.txt", "x")
	push := e.submit(t, "alice", transferDoc("/c1/f.txt", "pushToVoSpace"))
	pull := e.submit(t, "alice", transferDoc("/c1/f.txt", "pullFromVoSpace"))

	tests := []struct {
		name   string
		method string
		id     string
		user   string
		write  bool
		status int
	}{
		{"other owner", http.MethodGet, pull, "bob", false, http.StatusNotFound},
		{"unknown job", http.MethodGet, "2b1f3a62-8d7a-4ce4-9d0e-5f3a8b7f1c11", "alice", false, http.StatusNotFound},
		{"get on push job", http.MethodGet, push, "alice", false, http.StatusBadRequest},
		{"put on pull job", http.MethodPut, pull, "alice", true, http.StatusBadRequest},
		{"put without write", http.MethodPut, push, "alice", false, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, "/data/"+tt.id, tt.user, tt.write, "body")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, types.StatePending, e.job(t, push).State)
	assert.Equal(t, types.StatePending, e.job(t, pull).State)
}

func TestSubmit_Errors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/transfers", "alice", true, "<not-xml")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/transfers", "alice", false, transferDoc("/c1/f", "pushToVoSpace"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PermissionDenied", rec.Header().Get("X-Vospace-Error"))

	rec = e.do(t, http.MethodPost, "/transfers", "alice", false, transferDoc("/c1/f", "pullFromVoSpace"))
	assert.Equal(t, http.StatusSeeOther, rec.Code, "reads need no write permission")
}

func TestTransferResources(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")
	id := e.submit(t, "alice", transferDoc("/c1/f.txt", "pushToVoSpace"))

	rec := e.do(t, http.MethodGet, "/transfers/"+id, "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xmlContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<uws:jobId>"+id+"</uws:jobId>")
	assert.Contains(t, rec.Body.String(), "<uws:phase>PENDING</uws:phase>")

	rec = e.do(t, http.MethodGet, "/transfers/"+id+"/phase", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/transfers/"+id+"/results", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/transfers/"+id+"/results/details")

	rec = e.do(t, http.MethodGet, "/transfers/"+id+"/results/details", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), appURL+"/data/"+id)

	rec = e.do(t, http.MethodGet, "/transfers", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, transfer.QueueHeader, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], id+", PENDING, PUSH_TO_STORE, "), lines[1])

	rec = e.do(t, http.MethodGet, "/transfers", "bob", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, transfer.QueueHeader+"\n", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/transfers/"+id, "bob", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAbort(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")
	e.put(t, "alice", "/c1/f.txt", "x")
	id := e.submit(t, "alice", transferDoc("/c1/f.txt", "vos://test!vospace/c1/g.txt"))
	assert.Equal(t, types.StateQueued, e.job(t, id).State)

	rec := e.do(t, http.MethodPost, "/transfers/"+id+"/phase", "alice", false, "PHASE=RUN")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/transfers/"+id+"/phase", "alice", false, "PHASE=ABORT")
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, appURL+"/transfers/"+id, rec.Header().Get("Location"))

	rec = e.do(t, http.MethodGet, "/transfers/"+id+"/phase", "alice", false, "")
	assert.Equal(t, "ABORTED", rec.Body.String())
	rec = e.do(t, http.MethodGet, "/transfers/"+id+"/error", "alice", false, "")
	assert.Equal(t, "aborted by user", rec.Body.String())

	rec = e.do(t, http.MethodPost, "/transfers/"+id+"/phase", "alice", false, "PHASE=ABORT")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "aborting twice is an invalid transition")

	task, err := e.queue.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCancelled, task.Status)
}

func TestNodes(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/nodes/c1", "alice", false, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPut, "/nodes/c1/sub/deep?parents=true", "alice", true, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/nodes/c1/file.fits?type=data", "alice", true, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created nodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "data", created.Type)

	rec = e.do(t, http.MethodPut, "/nodes/c1/file.fits?type=data", "alice", true, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already exists")

	rec = e.do(t, http.MethodPut, "/nodes/nope/x", "alice", true, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/nodes/c1?count=1", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view nodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "container", view.Type)
	require.Len(t, view.Children, 1)
	require.NotNil(t, view.Total)
	assert.Equal(t, 2, *view.Total)
	assert.Equal(t, "/c1/file.fits", view.Children[0].Path)

	rec = e.do(t, http.MethodGet, "/nodes/c1", "bob", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nodes are scoped by owner")

	rec = e.do(t, http.MethodDelete, "/nodes/c1/file.fits", "alice", true, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, "/nodes/c1/file.fits", "alice", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/nodes/c1?deleted=true", "alice", false, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Children, 2)
	assert.True(t, view.Children[0].Deleted)

	rec = e.do(t, http.MethodGet, "/nodes/c1?start=x", "alice", false, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1/a")
	e.put(t, "alice", "/c1/a/one.fits", "1")
	e.put(t, "alice", "/c1/two.txt", "2")

	rec := e.do(t, http.MethodGet, "/search/c1?pattern=fits", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"vos://test!vospace/c1/a/one.fits"}, out)
}

func TestProperties(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1")
	const title = "ivo://example/props#title"

	rec := e.do(t, http.MethodPost, "/properties/c1", "alice", true, `{"`+title+`":"Survey"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var props []propertyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	assert.Contains(t, props, propertyView{URI: title, Value: "Survey"})
	assert.Contains(t, props, propertyView{URI: nodes.PropLength, Value: "0", ReadOnly: true})

	rec = e.do(t, http.MethodPost, "/properties/c1", "alice", true, `{"`+title+`":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	props = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	assert.NotContains(t, props, propertyView{URI: title, Value: "Survey"})

	rec = e.do(t, http.MethodPost, "/properties/c1", "alice", true, `{"`+nodes.PropLength+`":"9"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/properties/c1", "alice", true, `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShares(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1/sub")

	rec := e.do(t, http.MethodPost, "/shares/c1/sub", "alice", true, `{"group":"astro","write":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created shareView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)

	rec = e.do(t, http.MethodGet, "/sharetokens/"+created.Token, "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got shareView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "c1", got.Container)
	assert.Equal(t, "astro", got.Group)
	assert.True(t, got.Write)

	rec = e.do(t, http.MethodGet, "/sharetokens/"+created.Token, "bob", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodGet, "/sharetokens/unknown", "alice", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegions(t *testing.T) {
	e := newEnv(t)
	e.mkdir(t, "alice", "/c1/sub")
	e.put(t, "alice", "/c1/sub/f", "x")

	rec := e.do(t, http.MethodGet, "/regions", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []regions.RegionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "east", infos[0].Name)
	assert.Equal(t, "west", infos[1].Name)

	rec = e.do(t, http.MethodGet, "/regions/c1", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view regionsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"east"}, view.Regions, "unset containers live in the local region")

	rec = e.do(t, http.MethodPut, "/regions/c1/sub", "alice", true, `{"east":"west","west":""}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = regionsView{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"east", "west"}, view.Regions)
	assert.Equal(t, map[string]string{"east": "west", "west": "east"}, view.Pairs)

	rec = e.do(t, http.MethodPut, "/regions/c1", "alice", true, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/regions/c1/sub/f", "alice", false, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "data nodes have no region map")
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rec, req, io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "InternalError", rec.Header().Get("X-Vospace-Error"))
	assert.Equal(t, "internal error\n", rec.Body.String())
}
