// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"

	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

// Scoped binds a DB to one owner, the caller identity of a request.
type Scoped struct {
	DB    DB
	Owner string
}

// ForOwner returns db scoped to owner.
func ForOwner(db DB, owner string) Scoped {
	return Scoped{DB: db, Owner: owner}
}

func (s Scoped) IsStored(ctx context.Context, p node.Path) (bool, error) {
	return s.DB.IsStored(ctx, s.Owner, p)
}

func (s Scoped) GetInfo(ctx context.Context, p node.Path) (node.Info, error) {
	return s.DB.GetInfo(ctx, s.Owner, p)
}

func (s Scoped) GetType(ctx context.Context, p node.Path) (node.Type, error) {
	return s.DB.GetType(ctx, s.Owner, p)
}

func (s Scoped) GetChildren(ctx context.Context, p node.Path, start, count int, includeDeleted bool) ([]node.Stub, int, error) {
	return s.DB.GetChildren(ctx, s.Owner, p, start, count, includeDeleted)
}

func (s Scoped) StoreData(ctx context.Context, p node.Path, typ node.Type) error {
	return s.DB.StoreData(ctx, s.Owner, p, typ)
}

func (s Scoped) StoreInfo(ctx context.Context, p node.Path, info node.Info) error {
	return s.DB.StoreInfo(ctx, s.Owner, p, info)
}

func (s Scoped) MarkRemoved(ctx context.Context, p node.Path) error {
	return s.DB.MarkRemoved(ctx, s.Owner, p)
}

func (s Scoped) Remove(ctx context.Context, p node.Path) error {
	return s.DB.Remove(ctx, s.Owner, p)
}

func (s Scoped) Search(ctx context.Context, p node.Path, pattern string, limit int, includeDeleted bool) ([]node.Path, error) {
	return s.DB.Search(ctx, s.Owner, p, pattern, limit, includeDeleted)
}

func (s Scoped) UpdateUserProperties(ctx context.Context, p node.Path, props map[string]*string) error {
	return s.DB.UpdateUserProperties(ctx, s.Owner, p, props)
}

func (s Scoped) CreateShare(ctx context.Context, p node.Path, groupID string, write bool) (string, error) {
	return s.DB.CreateShare(ctx, s.Owner, p, groupID, write)
}
