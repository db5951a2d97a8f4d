// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.DB.
// Nodes live in a btree ordered by (owner, container, path), which gives
// ordered child listings and prefix scans without a database.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

// entry is the single current-revision slot for one (owner, container, path).
type entry struct {
	owner     string
	container string
	path      string
	typ       node.Type
	info      node.Info
	history   []node.Info
}

func lessEntry(a, b *entry) bool {
	if a.owner != b.owner {
		return a.owner < b.owner
	}
	if a.container != b.container {
		return a.container < b.container
	}
	return a.path < b.path
}

func (e *entry) nodePath() node.Path {
	if e.path == "" {
		p, _ := node.NewPath(e.container)
		return p
	}
	p, _ := node.NewPath(e.container, strings.Split(e.path, "/")...)
	return p
}

func (e *entry) stub() node.Stub {
	return node.Stub{Path: e.nodePath(), Type: e.typ, Info: e.info}
}

// fullPath is the storage path without its leading slash.
func (e *entry) fullPath() string {
	if e.path == "" {
		return e.container
	}
	return e.container + "/" + e.path
}

type propKey struct {
	owner, container, path string
}

type regionKey struct {
	owner, container string
}

// DB is an in-memory database implementation.
type DB struct {
	mu sync.RWMutex

	nodes      *btree.BTreeG[*entry]
	properties map[propKey]map[string]string
	shares     map[string]*db.Share
	regions    map[regionKey]map[string]string
	jobs       map[uuid.UUID]*types.TransferJob

	now func() time.Time
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		nodes:      btree.NewG[*entry](16, lessEntry),
		properties: make(map[propKey]map[string]string),
		shares:     make(map[string]*db.Share),
		regions:    make(map[regionKey]map[string]string),
		jobs:       make(map[uuid.UUID]*types.TransferJob),
		now:        time.Now,
	}
}

var _ db.DB = (*DB)(nil)

func pivot(owner string, p node.Path) *entry {
	return &entry{owner: owner, container: p.Container(), path: p.RelativePath()}
}

func (d *DB) get(owner string, p node.Path) (*entry, bool) {
	if p.IsRoot() {
		return nil, false
	}
	return d.nodes.Get(pivot(owner, p))
}

// ascendPrefix visits entries of owner at or below p in key order.
func (d *DB) ascendPrefix(owner string, p node.Path, fn func(e *entry) bool) {
	if p.IsRoot() {
		d.nodes.AscendGreaterOrEqual(&entry{owner: owner}, func(e *entry) bool {
			if e.owner != owner {
				return false
			}
			return fn(e)
		})
		return
	}
	rel := p.RelativePath()
	d.nodes.AscendGreaterOrEqual(pivot(owner, p), func(e *entry) bool {
		if e.owner != owner || e.container != p.Container() {
			return false
		}
		if rel != "" && e.path != rel && !strings.HasPrefix(e.path, rel+"/") {
			// descendants sort right after rel+"/"; anything else with the
			// same leading bytes (e.g. "a-b" vs "a/b") may come first
			return e.path < rel+"/"
		}
		return fn(e)
	})
}

func isDirectChild(parent node.Path, e *entry) bool {
	if parent.IsRoot() {
		return e.path == ""
	}
	rel := parent.RelativePath()
	if rel == "" {
		return e.path != "" && !strings.Contains(e.path, "/")
	}
	rest, ok := strings.CutPrefix(e.path, rel+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}

// ============================================================================
// Node Operations
// ============================================================================

func (d *DB) IsStored(ctx context.Context, owner string, p node.Path) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.get(owner, p)
	return ok, nil
}

func (d *DB) GetInfo(ctx context.Context, owner string, p node.Path) (node.Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.get(owner, p)
	if !ok {
		return node.Info{}, db.ErrNodeNotFound
	}
	return e.info, nil
}

func (d *DB) GetType(ctx context.Context, owner string, p node.Path) (node.Type, error) {
	if p.IsRoot() {
		return node.TypeContainer, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.get(owner, p)
	if !ok {
		return node.TypeUnknown, db.ErrNodeNotFound
	}
	return e.typ, nil
}

func (d *DB) GetChildren(ctx context.Context, owner string, p node.Path, start, count int, includeDeleted bool) ([]node.Stub, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if start < 0 {
		start = 0
	}
	var page []node.Stub
	total := 0
	d.ascendPrefix(owner, p, func(e *entry) bool {
		if !isDirectChild(p, e) || (e.info.Deleted && !includeDeleted) {
			return true
		}
		if total >= start && (count < 0 || len(page) < count) {
			page = append(page, e.stub())
		}
		total++
		return true
	})
	return page, total, nil
}

func (d *DB) Subtree(ctx context.Context, owner string, p node.Path, includeDeleted bool) ([]node.Stub, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []node.Stub
	d.ascendPrefix(owner, p, func(e *entry) bool {
		if !e.info.Deleted || includeDeleted {
			out = append(out, e.stub())
		}
		return true
	})
	return out, nil
}

func (d *DB) StoreData(ctx context.Context, owner string, p node.Path, typ node.Type) error {
	if p.IsRoot() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.get(owner, p); ok {
		if e.info.Deleted {
			// a revived node is a new node: no revisions, bytes or properties carry over
			e.typ = typ
			e.info = node.Info{Revision: 1, ModifiedTime: d.now()}
			e.history = nil
			delete(d.properties, propKey{owner, p.Container(), p.RelativePath()})
		}
		return nil
	}

	d.nodes.ReplaceOrInsert(&entry{
		owner:     owner,
		container: p.Container(),
		path:      p.RelativePath(),
		typ:       typ,
		info:      node.Info{Revision: 1, ModifiedTime: d.now()},
	})
	return nil
}

func (d *DB) StoreInfo(ctx context.Context, owner string, p node.Path, info node.Info) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.get(owner, p)
	if !ok {
		return db.ErrNodeNotFound
	}
	if info.Revision < 1 {
		info.Revision = e.info.Revision
	}
	if info.ModifiedTime.IsZero() {
		info.ModifiedTime = d.now()
	}
	if info.Revision != e.info.Revision {
		e.history = append(e.history, e.info)
	}
	info.Deleted = e.info.Deleted
	e.info = info
	return nil
}

func (d *DB) MarkRemoved(ctx context.Context, owner string, p node.Path) error {
	if p.IsRoot() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.get(owner, p); !ok {
		return db.ErrNodeNotFound
	}
	now := d.now()
	d.ascendPrefix(owner, p, func(e *entry) bool {
		if !e.info.Deleted {
			e.info.Deleted = true
			e.info.ModifiedTime = now
		}
		return true
	})
	return nil
}

func (d *DB) Remove(ctx context.Context, owner string, p node.Path) error {
	if p.IsRoot() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.get(owner, p); !ok {
		return db.ErrNodeNotFound
	}

	var doomed []*entry
	d.ascendPrefix(owner, p, func(e *entry) bool {
		doomed = append(doomed, e)
		return true
	})
	for _, e := range doomed {
		d.nodes.Delete(e)
		delete(d.properties, propKey{e.owner, e.container, e.path})
	}

	if p.IsContainerRoot() {
		delete(d.regions, regionKey{owner, p.Container()})
		for token, s := range d.shares {
			if s.Owner == owner && s.Container == p.Container() {
				delete(d.shares, token)
			}
		}
	}
	return nil
}

func (d *DB) Search(ctx context.Context, owner string, p node.Path, pattern string, limit int, includeDeleted bool) ([]node.Path, error) {
	prefix := ""
	if !p.IsRoot() {
		prefix = strings.TrimPrefix(p.ToStoragePath(), "/") + "/"
	}
	re, err := regexp.Compile("^" + regexp.QuoteMeta(prefix) + ".*" + pattern + ".*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrInvalidPattern, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []node.Path
	d.ascendPrefix(owner, p, func(e *entry) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if e.info.Deleted && !includeDeleted {
			return true
		}
		full := e.fullPath()
		if !strings.HasPrefix(full, prefix) || full == strings.TrimSuffix(prefix, "/") {
			return true
		}
		if re.MatchString(full) {
			out = append(out, e.nodePath())
		}
		return true
	})
	return out, nil
}

func (d *DB) Move(ctx context.Context, owner string, p, dst node.Path) error {
	if p.IsRoot() || dst.IsRoot() {
		return fmt.Errorf("%w: cannot move the account root", db.ErrNodeExists)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.get(owner, p); !ok {
		return db.ErrNodeNotFound
	}
	if _, ok := d.get(owner, dst); ok {
		return db.ErrNodeExists
	}

	var moving []*entry
	d.ascendPrefix(owner, p, func(e *entry) bool {
		moving = append(moving, e)
		return true
	})
	for _, e := range moving {
		d.nodes.Delete(e)
	}
	for _, e := range moving {
		np, err := e.nodePath().Rebase(p, dst)
		if err != nil {
			return err
		}
		oldKey := propKey{e.owner, e.container, e.path}
		e.container = np.Container()
		e.path = np.RelativePath()
		d.nodes.ReplaceOrInsert(e)
		if props, ok := d.properties[oldKey]; ok {
			delete(d.properties, oldKey)
			d.properties[propKey{e.owner, e.container, e.path}] = props
		}
	}
	return nil
}

func (d *DB) Revisions(ctx context.Context, owner string, p node.Path) ([]node.Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.get(owner, p)
	if !ok {
		return nil, db.ErrNodeNotFound
	}
	out := make([]node.Info, 0, len(e.history)+1)
	out = append(out, e.history...)
	return append(out, e.info), nil
}

// ============================================================================
// Property Operations
// ============================================================================

func (d *DB) UpdateUserProperties(ctx context.Context, owner string, p node.Path, props map[string]*string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.get(owner, p); !ok {
		return db.ErrNodeNotFound
	}
	key := propKey{owner, p.Container(), p.RelativePath()}
	current := d.properties[key]
	if current == nil {
		current = make(map[string]string)
		d.properties[key] = current
	}
	for uri, value := range props {
		if db.IsReadOnlyProperty(uri) {
			continue
		}
		if value == nil {
			delete(current, uri)
			continue
		}
		current[uri] = *value
	}
	return nil
}

func (d *DB) GetProperties(ctx context.Context, owner string, p node.Path) ([]db.Property, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.get(owner, p); !ok {
		return nil, db.ErrNodeNotFound
	}
	stored := d.properties[propKey{owner, p.Container(), p.RelativePath()}]
	out := make([]db.Property, 0, len(stored))
	for uri, value := range stored {
		out = append(out, db.Property{URI: uri, Value: value, ReadOnly: db.IsReadOnlyProperty(uri)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// ============================================================================
// Share Operations
// ============================================================================

func (d *DB) CreateShare(ctx context.Context, owner string, p node.Path, groupID string, write bool) (string, error) {
	if p.IsRoot() {
		return "", db.ErrNodeNotFound
	}
	container, err := node.NewPath(p.Container())
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.get(owner, container); !ok {
		return "", db.ErrNodeNotFound
	}
	token, err := db.NewShareToken()
	if err != nil {
		return "", err
	}
	d.shares[token] = &db.Share{
		Token:     token,
		Owner:     owner,
		Container: p.Container(),
		GroupID:   groupID,
		Write:     write,
		CreatedAt: d.now(),
	}
	return token, nil
}

func (d *DB) GetShare(ctx context.Context, token string) (*db.Share, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shares[token]
	if !ok {
		return nil, db.ErrShareNotFound
	}
	c := *s
	return &c, nil
}

// ============================================================================
// Region Operations
// ============================================================================

func (d *DB) GetContainerRegions(ctx context.Context, owner, container string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.regions[regionKey{owner, container}]))
	for k, v := range d.regions[regionKey{owner, container}] {
		out[k] = v
	}
	return out, nil
}

func (d *DB) SetContainerRegions(ctx context.Context, owner, container string, regions map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := make(map[string]string, len(regions))
	for k, v := range regions {
		m[k] = v
	}
	d.regions[regionKey{owner, container}] = m
	return nil
}

// ============================================================================
// Job Operations
// ============================================================================

func (d *DB) InsertJob(ctx context.Context, job *types.TransferJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.jobs[job.ID]; ok {
		return db.ErrJobExists
	}
	d.jobs[job.ID] = job.Clone()
	return nil
}

func (d *DB) GetJob(ctx context.Context, id uuid.UUID) (*types.TransferJob, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[id]
	if !ok {
		return nil, db.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (d *DB) UpdateJobState(ctx context.Context, id uuid.UUID, state types.JobState, note string, at time.Time) (*types.TransferJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[id]
	if !ok {
		return nil, db.ErrJobNotFound
	}
	next := j.Clone()
	if err := db.ApplyTransition(next, state, note, at); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, j.State, state)
	}
	d.jobs[id] = next
	return next.Clone(), nil
}

func (d *DB) ListJobs(ctx context.Context, owner string) ([]*types.TransferJob, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.TransferJob
	for _, j := range d.jobs {
		if j.Owner == owner {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID.String() < out[k].ID.String()
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out, nil
}

func (d *DB) ListJobsByState(ctx context.Context, state types.JobState) ([]*types.TransferJob, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.TransferJob
	for _, j := range d.jobs {
		if j.State == state {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID.String() < out[k].ID.String()
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func (d *DB) Ping(ctx context.Context) error { return nil }

func (d *DB) Migrate(ctx context.Context) error { return nil }

func (d *DB) Close() error { return nil }
