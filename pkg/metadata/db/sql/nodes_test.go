// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

// nodeRow is one row of the nodes table.
type nodeRow struct {
	id          int64
	owner       string
	container   string
	path        string
	typ         string
	revision    int64
	current     bool
	deleted     bool
	mtime       time.Time
	size        int64
	contentType string
}

// nodeTable is a single-connection database/sql driver holding the nodes
// table in memory. It understands the statements StoreInfo issues and
// enforces idx_nodes_current: at most one current row per node.
type nodeTable struct {
	mu         sync.Mutex
	rows       []nodeRow
	snapshot   []nodeRow
	nextID     int64
	failInsert error
	statements []string
}

func newNodeTable(t *testing.T, rows ...nodeRow) (*nodeTable, *Store) {
	t.Helper()
	tbl := &nodeTable{rows: rows, nextID: int64(len(rows)) + 1}
	sqlDB := sql.OpenDB(tbl)
	t.Cleanup(func() { _ = sqlDB.Close() })
	store := NewStore(sqlDB, PostgresDialect{})
	store.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return tbl, store
}

func (t *nodeTable) Connect(context.Context) (driver.Conn, error) { return t, nil }
func (t *nodeTable) Driver() driver.Driver                        { return t }
func (t *nodeTable) Open(string) (driver.Conn, error)             { return t, nil }

func (t *nodeTable) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (t *nodeTable) Close() error { return nil }

func (t *nodeTable) Begin() (driver.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = slices.Clone(t.rows)
	return t, nil
}

func (t *nodeTable) Commit() error {
	t.mu.Lock()
	t.snapshot = nil
	t.mu.Unlock()
	return nil
}

func (t *nodeTable) Rollback() error {
	t.mu.Lock()
	t.rows, t.snapshot = t.snapshot, nil
	t.mu.Unlock()
	return nil
}

func (t *nodeTable) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.record(query)
	if !strings.HasPrefix(q, "SELECT id, revision, type, deleted FROM nodes WHERE owner = $1 AND container = $2 AND path = $3 AND current_rev = TRUE") {
		return nil, fmt.Errorf("unexpected query: %s", q)
	}
	out := &nodeRows{cols: []string{"id", "revision", "type", "deleted"}}
	for _, r := range t.rows {
		if r.current && r.owner == args[0].Value && r.container == args[1].Value && r.path == args[2].Value {
			out.vals = append(out.vals, []driver.Value{r.id, r.revision, r.typ, r.deleted})
		}
	}
	return out, nil
}

func (t *nodeTable) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.record(query)
	switch {
	case q == "UPDATE nodes SET mtime = $1, size = $2, content_type = $3 WHERE id = $4":
		return t.update(args[3].Value, func(r *nodeRow) {
			r.mtime = args[0].Value.(time.Time)
			r.size = args[1].Value.(int64)
			r.contentType = args[2].Value.(string)
		})
	case q == "UPDATE nodes SET current_rev = NULL WHERE id = $1":
		return t.update(args[0].Value, func(r *nodeRow) { r.current = false })
	case strings.HasPrefix(q, "INSERT INTO nodes (owner, container, path, type, revision, current_rev, deleted, mtime, size, content_type)"):
		if t.failInsert != nil {
			return nil, t.failInsert
		}
		r := nodeRow{
			id:          t.nextID,
			owner:       args[0].Value.(string),
			container:   args[1].Value.(string),
			path:        args[2].Value.(string),
			typ:         args[3].Value.(string),
			revision:    args[4].Value.(int64),
			current:     args[5].Value.(bool),
			deleted:     args[6].Value.(bool),
			mtime:       args[7].Value.(time.Time),
			size:        args[8].Value.(int64),
			contentType: args[9].Value.(string),
		}
		for _, o := range t.rows {
			if r.current && o.current && o.owner == r.owner && o.container == r.container && o.path == r.path {
				return nil, errors.New(`duplicate key value violates unique constraint "idx_nodes_current"`)
			}
		}
		t.nextID++
		t.rows = append(t.rows, r)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unexpected statement: %s", q)
}

func (t *nodeTable) record(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	t.statements = append(t.statements, q)
	return q
}

func (t *nodeTable) update(id any, fn func(*nodeRow)) (driver.Result, error) {
	var n int64
	for i := range t.rows {
		if t.rows[i].id == id {
			fn(&t.rows[i])
			n++
		}
	}
	return driver.RowsAffected(n), nil
}

// verbs lists the leading keyword of every recorded statement.
func (t *nodeTable) verbs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.statements))
	for i, s := range t.statements {
		out[i], _, _ = strings.Cut(s, " ")
	}
	return out
}

func (t *nodeTable) current(container, path string) []nodeRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []nodeRow
	for _, r := range t.rows {
		if r.current && r.container == container && r.path == path {
			out = append(out, r)
		}
	}
	return out
}

type nodeRows struct {
	cols []string
	vals [][]driver.Value
	pos  int
}

func (r *nodeRows) Columns() []string { return r.cols }
func (r *nodeRows) Close() error      { return nil }

func (r *nodeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.pos])
	r.pos++
	return nil
}

func seededFile() nodeRow {
	return nodeRow{
		id: 1, owner: "alice", container: "c1", path: "f.bin", typ: "data",
		revision: 1, current: true, size: 10, contentType: "text/plain",
		mtime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStoreInfo_SameRevisionUpdatesInPlace(t *testing.T) {
	tbl, store := newNodeTable(t, seededFile())
	p := node.MustParsePath("/c1/f.bin")

	require.NoError(t, store.StoreInfo(context.Background(), "alice", p, node.Info{Size: 4, ContentType: "application/fits"}))

	assert.Equal(t, []string{"SELECT", "UPDATE"}, tbl.verbs())
	require.Len(t, tbl.rows, 1)
	got := tbl.rows[0]
	assert.True(t, got.current)
	assert.Equal(t, int64(1), got.revision)
	assert.Equal(t, int64(4), got.size)
	assert.Equal(t, "application/fits", got.contentType)
	assert.Equal(t, store.now(), got.mtime)
}

func TestStoreInfo_NewRevisionDemotesCurrent(t *testing.T) {
	tbl, store := newNodeTable(t, seededFile())
	p := node.MustParsePath("/c1/f.bin")
	ctx := context.Background()

	require.NoError(t, store.StoreInfo(ctx, "alice", p, node.Info{Revision: 2, Size: 5}))
	require.NoError(t, store.StoreInfo(ctx, "alice", p, node.Info{Revision: 3, Size: 6}))

	assert.Equal(t, []string{"SELECT", "UPDATE", "INSERT", "SELECT", "UPDATE", "INSERT"}, tbl.verbs())
	require.Len(t, tbl.rows, 3)
	cur := tbl.current("c1", "f.bin")
	require.Len(t, cur, 1, "exactly one current revision")
	assert.Equal(t, int64(3), cur[0].revision)
	assert.Equal(t, int64(6), cur[0].size)
	assert.Equal(t, "data", cur[0].typ)

	// history rows keep their own sizes
	assert.False(t, tbl.rows[0].current)
	assert.Equal(t, int64(10), tbl.rows[0].size)
	assert.False(t, tbl.rows[1].current)
	assert.Equal(t, int64(2), tbl.rows[1].revision)
	assert.Equal(t, int64(5), tbl.rows[1].size)
}

func TestStoreInfo_FailedInsertRollsBackDemote(t *testing.T) {
	tbl, store := newNodeTable(t, seededFile())
	tbl.failInsert = errors.New("connection reset")

	err := store.StoreInfo(context.Background(), "alice", node.MustParsePath("/c1/f.bin"), node.Info{Revision: 2, Size: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert revision")

	cur := tbl.current("c1", "f.bin")
	require.Len(t, cur, 1, "the demote is undone with the transaction")
	assert.Equal(t, int64(1), cur[0].revision)
	assert.Equal(t, int64(10), cur[0].size)
}

func TestStoreInfo_MissingNode(t *testing.T) {
	tbl, store := newNodeTable(t)

	err := store.StoreInfo(context.Background(), "alice", node.MustParsePath("/c1/nope"), node.Info{Size: 1})
	assert.ErrorIs(t, err, db.ErrNodeNotFound)
	assert.Equal(t, []string{"SELECT"}, tbl.verbs())
}

func TestNodeTable_RejectsSecondCurrentRow(t *testing.T) {
	tbl, store := newNodeTable(t, seededFile())

	// an insert that skips the demote must trip the unique index
	_, err := store.Exec(context.Background(), `
		INSERT INTO nodes
			(owner, container, path, type, revision, current_rev, deleted, mtime, size, content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		"alice", "c1", "f.bin", "data", int64(2), true, false, time.Now().UTC(), int64(0), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idx_nodes_current")
	assert.Len(t, tbl.current("c1", "f.bin"), 1)
}
