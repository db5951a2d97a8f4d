// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package nodes implements container and data node handles on top of the
// metadata store and a byte backend.
//
// Node state lives entirely in the metadata store (revision, tombstone,
// size, content type). Handles are cheap and hold no cached state beyond
// their path, type and owner.
package nodes

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Read-only property URIs synthesized from node info.
const (
	PropLength = "ivo://ivoa.net/vospace/core#length"
	PropDate   = "ivo://ivoa.net/vospace/core#date"
	PropMTime  = "ivo://ivoa.net/vospace/core#mtime"
)

// RegionStore is implemented by the distributed metadata store.
type RegionStore interface {
	GetNodeRegions(ctx context.Context, owner string, p node.Path) ([]string, error)
	GetNodeRegionMap(ctx context.Context, owner string, p node.Path) (map[string]string, error)
	SetNodeRegions(ctx context.Context, owner string, p node.Path, m map[string]string) error
}

// Node is a handle on a stored container or data node.
type Node interface {
	ID() node.Identifier
	Path() node.Path
	Owner() string
	Type() node.Type

	Info(ctx context.Context) (node.Info, error)
	Revisions(ctx context.Context) ([]node.Info, error)

	// Export streams the node's bytes: raw for data, a tar archive for a
	// container. Only the owner may export.
	Export(ctx context.Context, requester string) (io.ReadCloser, error)

	Move(ctx context.Context, dst node.Path) error
	Copy(ctx context.Context, dst node.Path) error
	MarkRemoved(ctx context.Context) error
	Remove(ctx context.Context) error

	Search(ctx context.Context, pattern string, limit int, includeDeleted bool) ([]node.Path, error)
	Properties(ctx context.Context) ([]db.Property, error)
	SetProperties(ctx context.Context, props map[string]*string) error
	Share(ctx context.Context, groupID string, write bool) (string, error)
}

// Manager creates node handles. It owns no per-request state.
type Manager struct {
	db        db.DB
	backend   types.BackendStorage
	regions   RegionStore
	authority string
	now       func() time.Time
}

// NewManager creates a manager. When store also implements RegionStore,
// containers expose their region map.
func NewManager(store db.DB, backend types.BackendStorage, authority string) *Manager {
	m := &Manager{
		db:        store,
		backend:   backend,
		authority: authority,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if rs, ok := store.(RegionStore); ok {
		m.regions = rs
	}
	return m
}

// DB returns the metadata store.
func (m *Manager) DB() db.DB { return m.db }

// Backend returns the byte store.
func (m *Manager) Backend() types.BackendStorage { return m.backend }

// Authority returns the identifier authority of this service.
func (m *Manager) Authority() string { return m.authority }

func (m *Manager) handle(owner string, p node.Path, typ node.Type) Node {
	b := base{m: m, store: db.ForOwner(m.db, owner), id: node.NewIdentifier(m.authority, p), typ: typ}
	if typ == node.TypeContainer {
		return &ContainerNode{base: b}
	}
	return &DataNode{base: b}
}

// Get returns a handle for an existing, non-deleted node.
func (m *Manager) Get(ctx context.Context, owner string, p node.Path) (Node, error) {
	if p.IsRoot() {
		return m.handle(owner, p, node.TypeContainer), nil
	}
	store := db.ForOwner(m.db, owner)
	info, err := store.GetInfo(ctx, p)
	if err != nil {
		return nil, translate(err, p)
	}
	if info.Deleted {
		return nil, verrors.NotFound("node %s not found", p)
	}
	typ, err := store.GetType(ctx, p)
	if err != nil {
		return nil, translate(err, p)
	}
	return m.handle(owner, p, typ), nil
}

// Exists reports whether p is stored and not tombstoned.
func (m *Manager) Exists(ctx context.Context, owner string, p node.Path) (bool, error) {
	_, err := m.Get(ctx, owner, p)
	if verrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Create registers a new node. The parent must be an existing container.
func (m *Manager) Create(ctx context.Context, owner string, p node.Path, typ node.Type) (Node, error) {
	if err := m.checkCreatable(ctx, owner, p, typ); err != nil {
		return nil, err
	}
	parent := p.Parent()
	if !parent.IsRoot() {
		ok, err := m.isLiveContainer(ctx, owner, parent)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, verrors.NotFound("container not found")
		}
	}
	if err := m.purgeTombstone(ctx, owner, p); err != nil {
		return nil, err
	}
	if err := db.ForOwner(m.db, owner).StoreData(ctx, p, typ); err != nil {
		return nil, translate(err, p)
	}
	return m.handle(owner, p, typ), nil
}

// CreateParent creates every missing ancestor container of p, then p.
func (m *Manager) CreateParent(ctx context.Context, owner string, p node.Path, typ node.Type) (Node, error) {
	if err := m.checkCreatable(ctx, owner, p, typ); err != nil {
		return nil, err
	}
	store := db.ForOwner(m.db, owner)
	for _, a := range p.Ancestors() {
		ok, err := m.isLiveContainer(ctx, owner, a)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		if t, err := store.GetType(ctx, a); err == nil && t == node.TypeData {
			if info, _ := store.GetInfo(ctx, a); !info.Deleted {
				return nil, verrors.InvalidArgument("%s is a data node", a)
			}
		}
		if err := m.purgeTombstone(ctx, owner, a); err != nil {
			return nil, err
		}
		if err := store.StoreData(ctx, a, node.TypeContainer); err != nil {
			return nil, translate(err, a)
		}
	}
	if err := m.purgeTombstone(ctx, owner, p); err != nil {
		return nil, err
	}
	if err := store.StoreData(ctx, p, typ); err != nil {
		return nil, translate(err, p)
	}
	return m.handle(owner, p, typ), nil
}

// OpenData returns the data node at p, creating it when absent. The
// parent container must exist.
func (m *Manager) OpenData(ctx context.Context, owner string, p node.Path) (*DataNode, error) {
	n, err := m.Get(ctx, owner, p)
	if verrors.IsNotFound(err) {
		n, err = m.Create(ctx, owner, p, node.TypeData)
	}
	if err != nil {
		return nil, err
	}
	dn, ok := n.(*DataNode)
	if !ok {
		return nil, verrors.InvalidArgument("%s is a container", p)
	}
	return dn, nil
}

func (m *Manager) checkCreatable(ctx context.Context, owner string, p node.Path, typ node.Type) error {
	if p.IsRoot() {
		return verrors.InvalidArgument("cannot create the account root")
	}
	if typ != node.TypeContainer && typ != node.TypeData {
		return verrors.InvalidArgument("unknown node type")
	}
	if typ == node.TypeData && p.IsContainerRoot() {
		return verrors.InvalidArgument("data nodes must be inside a container")
	}
	ok, err := m.Exists(ctx, owner, p)
	if err != nil {
		return err
	}
	if ok {
		return verrors.InvalidArgument("node %s already exists", p)
	}
	return nil
}

// purgeTombstone physically removes a tombstone at p, its subtree and its
// bytes, so a node created there starts empty at revision 1. Callers have
// already checked that p is not live.
func (m *Manager) purgeTombstone(ctx context.Context, owner string, p node.Path) error {
	stored, err := db.ForOwner(m.db, owner).IsStored(ctx, p)
	if err != nil {
		return translate(err, p)
	}
	if !stored {
		return nil
	}
	return m.handle(owner, p, node.TypeContainer).Remove(ctx)
}

func (m *Manager) isLiveContainer(ctx context.Context, owner string, p node.Path) (bool, error) {
	n, err := m.Get(ctx, owner, p)
	if verrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n.Type() == node.TypeContainer, nil
}

// GetShare resolves a share token.
func (m *Manager) GetShare(ctx context.Context, token string) (*db.Share, error) {
	s, err := m.db.GetShare(ctx, token)
	if errors.Is(err, db.ErrShareNotFound) {
		return nil, verrors.NotFound("share not found")
	}
	if err != nil {
		return nil, verrors.Internal(err, "get share")
	}
	return s, nil
}

// translate maps metadata store errors onto the service error kinds.
func translate(err error, p node.Path) error {
	var verr *verrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr):
		return err
	case errors.Is(err, db.ErrNodeNotFound):
		return verrors.NotFound("node %s not found", p)
	case errors.Is(err, db.ErrNodeExists):
		return verrors.InvalidArgument("node %s already exists", p)
	case errors.Is(err, db.ErrInvalidPattern):
		return &verrors.Error{Code: verrors.CodeInvalidArgument, Message: "invalid search pattern", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return verrors.Internal(err, "metadata %s", p)
	}
}
