// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

func init() {
	Register(types.StorageTypeMemory, func(types.BackendConfig) (types.BackendStorage, error) {
		return NewMemoryStorage(), nil
	})
}

// MemoryStorage holds node bytes in a map. Nothing survives a restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: map[string][]byte{}}
}

func (*MemoryStorage) Type() types.StorageType { return types.StorageTypeMemory }

// Write reads all of r before replacing key, so a short read keeps the old
// contents.
func (m *MemoryStorage) Write(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	buf := bytes.NewBuffer(make([]byte, 0, min(max(size, 0), 64<<20)))
	n, err := io.Copy(buf, r)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.blobs[key] = buf.Bytes()
	m.mu.Unlock()
	return n, nil
}

func (m *MemoryStorage) lookup(key string) ([]byte, bool) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	return b, ok
}

func (m *MemoryStorage) Read(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.lookup(key)
	if !ok {
		return nil, notFound(key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemoryStorage) Size(_ context.Context, key string) (int64, error) {
	b, ok := m.lookup(key)
	if !ok {
		return 0, notFound(key)
	}
	return int64(len(b)), nil
}

func (m *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// Len reports how many keys are stored.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Close drops every stored blob.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	clear(m.blobs)
	m.mu.Unlock()
	return nil
}
