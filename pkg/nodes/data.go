// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/storage/backend"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// sniffLen is how many leading bytes http.DetectContentType considers.
const sniffLen = 512

// DataNode is a file-like node.
type DataNode struct {
	base
}

var _ Node = (*DataNode)(nil)

// SetData replaces the node's bytes. The backend write happens first; if it
// fails the metadata is left untouched. Overwriting stored bytes bumps the
// revision. An empty contentType is sniffed from the data. size may be -1.
func (d *DataNode) SetData(ctx context.Context, r io.Reader, size int64, contentType string) (node.Info, error) {
	info, err := d.live(ctx)
	if err != nil {
		return node.Info{}, err
	}
	overwrite, err := d.m.backend.Exists(ctx, d.key())
	if err != nil {
		return node.Info{}, verrors.Internal(err, "stat %s", d.id.Path)
	}

	br := bufio.NewReaderSize(r, sniffLen)
	if contentType == "" {
		head, err := br.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return node.Info{}, verrors.Internal(err, "read data for %s", d.id.Path)
		}
		if len(head) > 0 {
			contentType = http.DetectContentType(head)
		}
	}

	n, err := d.m.backend.Write(ctx, d.key(), br, size)
	if err != nil {
		return node.Info{}, verrors.Internal(err, "write data for %s", d.id.Path)
	}

	info.Size = n
	info.ContentType = contentType
	info.ModifiedTime = d.m.now()
	if overwrite {
		info.Revision++
	}
	if err := d.store.StoreInfo(ctx, d.id.Path, info); err != nil {
		return node.Info{}, translate(err, d.id.Path)
	}
	logger.Ctx(ctx).Debug().
		Str("owner", d.store.Owner).
		Str("path", d.id.Path.String()).
		Int64("revision", info.Revision).
		Str("bytes", humanize.Bytes(uint64(n))).
		Msg("stored data")
	return info, nil
}

// Export opens the stored bytes. Metadata that claims bytes the backend
// does not hold is reported as NotFound.
func (d *DataNode) Export(ctx context.Context, requester string) (io.ReadCloser, error) {
	if err := d.checkOwner(requester); err != nil {
		return nil, err
	}
	info, err := d.live(ctx)
	if err != nil {
		return nil, err
	}
	r, err := d.m.backend.Read(ctx, d.key())
	if errors.Is(err, backend.ErrNotFound) {
		if info.Size == 0 {
			return http.NoBody, nil
		}
		return nil, verrors.NotFound("no bytes stored for %s", d.id.Path)
	}
	if err != nil {
		return nil, verrors.Internal(err, "read data for %s", d.id.Path)
	}
	return r, nil
}
