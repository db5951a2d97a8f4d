// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"path"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/storage/backend"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// TarContentType is the content type of an exported container.
const TarContentType = "application/tar"

// ContainerNode is a directory-like node.
type ContainerNode struct {
	base
}

var _ Node = (*ContainerNode)(nil)

// Children lists direct children ordered by name. A negative count means
// no limit.
func (c *ContainerNode) Children(ctx context.Context, start, count int, includeDeleted bool) ([]node.Stub, int, error) {
	if !c.id.Path.IsRoot() {
		if _, err := c.live(ctx); err != nil {
			return nil, 0, err
		}
	}
	children, total, err := c.store.GetChildren(ctx, c.id.Path, start, count, includeDeleted)
	return children, total, translate(err, c.id.Path)
}

// Regions returns the regions holding this container.
func (c *ContainerNode) Regions(ctx context.Context) ([]string, error) {
	if c.m.regions == nil {
		return nil, verrors.InvalidArgument("regions are not configured")
	}
	if _, err := c.live(ctx); err != nil {
		return nil, err
	}
	out, err := c.m.regions.GetNodeRegions(ctx, c.store.Owner, c.id.Path)
	return out, translate(err, c.id.Path)
}

// RegionMap returns the stored region → partner map.
func (c *ContainerNode) RegionMap(ctx context.Context) (map[string]string, error) {
	if c.m.regions == nil {
		return nil, verrors.InvalidArgument("regions are not configured")
	}
	out, err := c.m.regions.GetNodeRegionMap(ctx, c.store.Owner, c.id.Path)
	return out, translate(err, c.id.Path)
}

// SetRegions replaces the region map of this container wholesale.
func (c *ContainerNode) SetRegions(ctx context.Context, m map[string]string) error {
	if c.m.regions == nil {
		return verrors.InvalidArgument("regions are not configured")
	}
	if _, err := c.live(ctx); err != nil {
		return err
	}
	return translate(c.m.regions.SetNodeRegions(ctx, c.store.Owner, c.id.Path, m), c.id.Path)
}

// Export streams a tar archive of every live descendant. Entry names are
// relative to the container's parent, so extracting recreates the
// container directory.
func (c *ContainerNode) Export(ctx context.Context, requester string) (io.ReadCloser, error) {
	if err := c.checkOwner(requester); err != nil {
		return nil, err
	}
	if c.id.Path.IsRoot() {
		return nil, verrors.InvalidArgument("cannot export the account root")
	}
	if _, err := c.live(ctx); err != nil {
		return nil, err
	}
	stubs, err := c.m.db.Subtree(ctx, c.store.Owner, c.id.Path, false)
	if err != nil {
		return nil, translate(err, c.id.Path)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(c.writeTar(ctx, pw, stubs))
	}()
	return pr, nil
}

func (c *ContainerNode) writeTar(ctx context.Context, w io.Writer, stubs []node.Stub) error {
	tw := tar.NewWriter(w)
	root := c.id.Path
	depth := len(root.Segments())
	var files int
	for _, s := range stubs {
		name := path.Join(append([]string{root.Name()}, s.Path.Segments()[depth:]...)...)

		if s.Type == node.TypeContainer {
			hdr := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     name + "/",
				Mode:     0755,
				ModTime:  s.Info.ModifiedTime,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			continue
		}

		key := types.StorageKey(c.store.Owner, s.Path)
		size, err := c.m.backend.Size(ctx, key)
		switch {
		case errors.Is(err, backend.ErrNotFound):
			if s.Info.Size > 0 {
				return verrors.NotFound("no bytes stored for %s", s.Path)
			}
			// created but never written: export as empty
			size = 0
		case err != nil:
			return verrors.Internal(err, "stat %s", s.Path)
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0644,
			Size:     size,
			ModTime:  s.Info.ModifiedTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if size == 0 {
			continue
		}
		r, err := c.m.backend.Read(ctx, key)
		if err != nil {
			return verrors.Internal(err, "read %s", s.Path)
		}
		_, err = utils.CopyNPooled(tw, r, size)
		r.Close()
		if err != nil {
			return err
		}
		files++
	}
	if err := tw.Close(); err != nil {
		return err
	}
	logger.Ctx(ctx).Debug().
		Str("path", root.String()).
		Int("files", files).
		Msg("exported container")
	return nil
}
