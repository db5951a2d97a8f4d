// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/storage/backend"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// base holds what container and data handles share.
type base struct {
	m     *Manager
	store db.Scoped
	id    node.Identifier
	typ   node.Type
}

func (b *base) ID() node.Identifier { return b.id }
func (b *base) Path() node.Path     { return b.id.Path }
func (b *base) Owner() string       { return b.store.Owner }
func (b *base) Type() node.Type     { return b.typ }

func (b *base) key() string { return types.StorageKey(b.store.Owner, b.id.Path) }

func (b *base) Info(ctx context.Context) (node.Info, error) {
	info, err := b.store.GetInfo(ctx, b.id.Path)
	return info, translate(err, b.id.Path)
}

func (b *base) Revisions(ctx context.Context) ([]node.Info, error) {
	revs, err := b.m.db.Revisions(ctx, b.store.Owner, b.id.Path)
	return revs, translate(err, b.id.Path)
}

// live fails with NotFound unless the node exists and is not tombstoned.
func (b *base) live(ctx context.Context) (node.Info, error) {
	info, err := b.Info(ctx)
	if err != nil {
		return info, err
	}
	if info.Deleted {
		return info, verrors.NotFound("node %s not found", b.id.Path)
	}
	return info, nil
}

func (b *base) checkOwner(requester string) error {
	if requester != b.store.Owner {
		return verrors.PermissionDenied("%s is not the owner of %s", requester, b.id.Path)
	}
	return nil
}

// checkDestination validates dst for Move and Copy: it must not exist and
// its parent must be a live container.
func (b *base) checkDestination(ctx context.Context, dst node.Path) error {
	if dst.IsRoot() {
		return verrors.InvalidArgument("destination is the account root")
	}
	if b.typ == node.TypeData && dst.IsContainerRoot() {
		return verrors.InvalidArgument("data nodes must be inside a container")
	}
	if dst.Equal(b.id.Path) || dst.IsDescendantOf(b.id.Path) {
		return verrors.InvalidArgument("%s is inside %s", dst, b.id.Path)
	}
	exists, err := b.m.Exists(ctx, b.store.Owner, dst)
	if err != nil {
		return err
	}
	if exists {
		return verrors.InvalidArgument("node %s already exists", dst)
	}
	if parent := dst.Parent(); !parent.IsRoot() {
		ok, err := b.m.isLiveContainer(ctx, b.store.Owner, parent)
		if err != nil {
			return err
		}
		if !ok {
			return verrors.NotFound("container not found")
		}
	}
	return nil
}

// Move renames the node and everything below it, bytes included.
func (b *base) Move(ctx context.Context, dst node.Path) error {
	src := b.id.Path
	if src.IsRoot() {
		return verrors.InvalidArgument("cannot move the account root")
	}
	if _, err := b.live(ctx); err != nil {
		return err
	}
	if err := b.checkDestination(ctx, dst); err != nil {
		return err
	}
	// a tombstone at dst would collide with the rename
	if err := b.m.purgeTombstone(ctx, b.store.Owner, dst); err != nil {
		return err
	}

	stubs, err := b.m.db.Subtree(ctx, b.store.Owner, src, true)
	if err != nil {
		return translate(err, src)
	}

	// bytes first, so metadata never points at a key that was not written
	var copied []string
	rollback := func() {
		for _, k := range copied {
			_ = b.m.backend.Delete(context.WithoutCancel(ctx), k)
		}
	}
	var moved []string
	for _, s := range stubs {
		if s.Type != node.TypeData {
			continue
		}
		to, err := s.Path.Rebase(src, dst)
		if err != nil {
			rollback()
			return err
		}
		from := types.StorageKey(b.store.Owner, s.Path)
		toKey := types.StorageKey(b.store.Owner, to)
		ok, err := copyBytes(ctx, b.m.backend, from, toKey)
		if err != nil {
			rollback()
			return err
		}
		if ok {
			copied = append(copied, toKey)
			moved = append(moved, from)
		}
	}

	if err := b.m.db.Move(ctx, b.store.Owner, src, dst); err != nil {
		rollback()
		return translate(err, src)
	}
	for _, k := range moved {
		if err := b.m.backend.Delete(ctx, k); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("failed to delete moved bytes")
		}
	}
	b.id = b.id.WithPath(dst)
	logger.Ctx(ctx).Debug().
		Str("owner", b.store.Owner).
		Str("from", src.String()).
		Str("to", dst.String()).
		Int("nodes", len(stubs)).
		Msg("moved node")
	return nil
}

// Copy duplicates the live subtree at dst. Copies start at revision 1.
func (b *base) Copy(ctx context.Context, dst node.Path) error {
	src := b.id.Path
	if src.IsRoot() {
		return verrors.InvalidArgument("cannot copy the account root")
	}
	if _, err := b.live(ctx); err != nil {
		return err
	}
	if err := b.checkDestination(ctx, dst); err != nil {
		return err
	}

	if err := b.m.purgeTombstone(ctx, b.store.Owner, dst); err != nil {
		return err
	}

	stubs, err := b.m.db.Subtree(ctx, b.store.Owner, src, false)
	if err != nil {
		return translate(err, src)
	}
	if err := b.copyStubs(ctx, stubs, src, dst); err != nil {
		// nothing lived at dst before, so drop whatever part of the copy landed
		if rerr := b.m.handle(b.store.Owner, dst, node.TypeContainer).Remove(context.WithoutCancel(ctx)); rerr != nil && !verrors.IsNotFound(rerr) {
			logger.Ctx(ctx).Warn().Err(rerr).Str("path", dst.String()).Msg("failed to roll back partial copy")
		}
		return err
	}
	var total int64
	for _, s := range stubs {
		if s.Type == node.TypeData {
			total += s.Info.Size
		}
	}
	logger.Ctx(ctx).Debug().
		Str("owner", b.store.Owner).
		Str("from", src.String()).
		Str("to", dst.String()).
		Str("bytes", humanize.Bytes(uint64(total))).
		Msg("copied node")
	return nil
}

func (b *base) copyStubs(ctx context.Context, stubs []node.Stub, src, dst node.Path) error {
	for _, s := range stubs {
		to, err := s.Path.Rebase(src, dst)
		if err != nil {
			return err
		}
		if err := b.store.StoreData(ctx, to, s.Type); err != nil {
			return translate(err, to)
		}
		if s.Type == node.TypeData {
			fromKey := types.StorageKey(b.store.Owner, s.Path)
			if _, err := copyBytes(ctx, b.m.backend, fromKey, types.StorageKey(b.store.Owner, to)); err != nil {
				return err
			}
			info := node.Info{
				Revision:     1,
				ModifiedTime: b.m.now(),
				Size:         s.Info.Size,
				ContentType:  s.Info.ContentType,
			}
			if err := b.store.StoreInfo(ctx, to, info); err != nil {
				return translate(err, to)
			}
		}
		if err := b.copyUserProperties(ctx, s.Path, to); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) copyUserProperties(ctx context.Context, from, to node.Path) error {
	props, err := b.m.db.GetProperties(ctx, b.store.Owner, from)
	if err != nil {
		return translate(err, from)
	}
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]*string, len(props))
	for _, p := range props {
		if !p.ReadOnly {
			v := p.Value
			m[p.URI] = &v
		}
	}
	return translate(b.store.UpdateUserProperties(ctx, to, m), to)
}

// copyBytes copies key from → to. A missing source is reported as false,
// for nodes that were created but never written.
func copyBytes(ctx context.Context, be types.BackendStorage, from, to string) (bool, error) {
	size, err := be.Size(ctx, from)
	if errors.Is(err, backend.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, verrors.Internal(err, "stat %s", from)
	}
	r, err := be.Read(ctx, from)
	if err != nil {
		return false, verrors.Internal(err, "read %s", from)
	}
	defer r.Close()
	if _, err := be.Write(ctx, to, r, size); err != nil {
		return false, verrors.Internal(err, "write %s", to)
	}
	return true, nil
}

// MarkRemoved tombstones the node and its descendants. Bytes are kept.
func (b *base) MarkRemoved(ctx context.Context) error {
	if _, err := b.live(ctx); err != nil {
		return err
	}
	return translate(b.store.MarkRemoved(ctx, b.id.Path), b.id.Path)
}

// Remove deletes the node, its descendants and their bytes.
func (b *base) Remove(ctx context.Context) error {
	p := b.id.Path
	if p.IsRoot() {
		return verrors.InvalidArgument("cannot remove the account root")
	}
	stubs, err := b.m.db.Subtree(ctx, b.store.Owner, p, true)
	if err != nil {
		return translate(err, p)
	}
	if len(stubs) == 0 {
		return verrors.NotFound("node %s not found", p)
	}
	for _, s := range stubs {
		if s.Type != node.TypeData {
			continue
		}
		if err := b.m.backend.Delete(ctx, types.StorageKey(b.store.Owner, s.Path)); err != nil {
			return verrors.Internal(err, "delete bytes of %s", s.Path)
		}
	}
	return translate(b.store.Remove(ctx, p), p)
}

func (b *base) Search(ctx context.Context, pattern string, limit int, includeDeleted bool) ([]node.Path, error) {
	paths, err := b.store.Search(ctx, b.id.Path, pattern, limit, includeDeleted)
	return paths, translate(err, b.id.Path)
}

// Properties returns the synthesized read-only properties followed by the
// stored ones.
func (b *base) Properties(ctx context.Context) ([]db.Property, error) {
	info, err := b.live(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := b.m.db.GetProperties(ctx, b.store.Owner, b.id.Path)
	if err != nil {
		return nil, translate(err, b.id.Path)
	}
	mtime := info.ModifiedTime.UTC().Format(time.RFC3339)
	out := []db.Property{
		{URI: PropLength, Value: strconv.FormatInt(info.Size, 10), ReadOnly: true},
		{URI: PropDate, Value: mtime, ReadOnly: true},
		{URI: PropMTime, Value: mtime, ReadOnly: true},
	}
	return append(out, stored...), nil
}

// SetProperties upserts non-nil values and deletes nil ones. Read-only
// properties are rejected.
func (b *base) SetProperties(ctx context.Context, props map[string]*string) error {
	if _, err := b.live(ctx); err != nil {
		return err
	}
	for uri := range props {
		if db.IsReadOnlyProperty(uri) {
			return verrors.PermissionDenied("property %s is read-only", uri)
		}
	}
	return translate(b.store.UpdateUserProperties(ctx, b.id.Path, props), b.id.Path)
}

// Share creates a share token for the node's container.
func (b *base) Share(ctx context.Context, groupID string, write bool) (string, error) {
	if b.id.Path.IsRoot() {
		return "", verrors.InvalidArgument("cannot share the account root")
	}
	if _, err := b.live(ctx); err != nil {
		return "", err
	}
	token, err := b.store.CreateShare(ctx, b.id.Path, groupID, write)
	if err != nil {
		return "", translate(err, b.id.Path)
	}
	return token, nil
}
