// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"io"

	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
)

// Source is the byte stream of a job target being read out of the store.
type Source struct {
	io.ReadCloser

	// Size is -1 for containers, whose archive size is unknown up front.
	Size        int64
	ContentType string
	// Filename is what the client should save the stream as.
	Filename string
}

// OpenSource opens owner's node at p for export.
func OpenSource(ctx context.Context, m *nodes.Manager, owner string, p node.Path) (*Source, error) {
	n, err := m.Get(ctx, owner, p)
	if err != nil {
		return nil, err
	}
	src := &Source{Size: -1, Filename: p.Name()}
	if n.Type() == node.TypeContainer {
		src.ContentType = nodes.TarContentType
		src.Filename += ".tar"
	} else {
		info, err := n.Info(ctx)
		if err != nil {
			return nil, err
		}
		src.Size = info.Size
		src.ContentType = info.ContentType
	}
	if src.ContentType == "" {
		src.ContentType = "application/octet-stream"
	}
	rc, err := n.Export(ctx, owner)
	if err != nil {
		return nil, err
	}
	src.ReadCloser = rc
	return src, nil
}

// StoreInto writes r into owner's data node at p, creating it when absent.
// size may be -1.
func StoreInto(ctx context.Context, m *nodes.Manager, owner string, p node.Path, r io.Reader, size int64, contentType string) (node.Info, error) {
	dn, err := m.OpenData(ctx, owner, p)
	if err != nil {
		return node.Info{}, err
	}
	return dn.SetData(ctx, r, size, contentType)
}
