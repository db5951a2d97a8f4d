// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
)

// dropCacheThreshold is the write size above which pages are dropped from
// the page cache after sync.
const dropCacheThreshold = 64 << 20

func init() {
	Register(types.StorageTypeLocal, NewLocal)
}

// Local stores each key as a file under basePath.
type Local struct {
	basePath string
}

// NewLocal creates a local filesystem backend
func NewLocal(cfg types.BackendConfig) (types.BackendStorage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local backend")
	}
	base, err := filepath.Abs(utils.ResolvePath(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	if err := utils.CheckWritableDir(base); err != nil {
		return nil, err
	}
	return &Local{basePath: base}, nil
}

func (l *Local) Type() types.StorageType {
	return types.StorageTypeLocal
}

// path maps key onto the filesystem, refusing keys that escape basePath.
func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.basePath, filepath.FromSlash(key))
	if p == l.basePath || !strings.HasPrefix(p, l.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return p, nil
}

// Write streams into a temporary file next to the target and renames it
// into place after syncData, so readers see either the old or the new bytes.
func (l *Local) Write(ctx context.Context, key string, data io.Reader, size int64) (int64, error) {
	path, err := l.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if size > 0 {
		_ = preallocate(f, size)
	}
	n, err := utils.CopyPooled(f, data)
	if err != nil {
		return 0, fmt.Errorf("write data: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := syncData(f); err != nil {
		return 0, fmt.Errorf("sync: %w", err)
	}
	if n >= dropCacheThreshold {
		_ = dropCache(f)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	committed = true
	return n, nil
}

func (l *Local) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, err
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil // Already gone
	}
	return err
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	path, err := l.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Size(ctx context.Context, key string) (int64, error) {
	path, err := l.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, notFound(key)
		}
		return 0, err
	}
	return info.Size(), nil
}

// Usage reports the filesystem capacity under the base path.
func (l *Local) Usage() (total, used uint64, err error) {
	return fsUsage(l.basePath)
}

func (l *Local) Close() error {
	return nil
}
