// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides the byte stores behind data nodes.
// All backends implement types.BackendStorage and report a missing key
// with an error wrapping ErrNotFound.
package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

// ErrNotFound is returned when no bytes are stored under a key.
var ErrNotFound = errors.New("key not found")

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

var (
	factoriesMu sync.RWMutex
	factories   = map[types.StorageType]Factory{}
)

// Factory builds a backend from its configuration block.
type Factory func(cfg types.BackendConfig) (types.BackendStorage, error)

// Register is called from the init of each backend file.
func Register(t types.StorageType, f Factory) {
	factoriesMu.Lock()
	factories[t] = f
	factoriesMu.Unlock()
}

// New opens the backend named by cfg.Type.
func New(cfg types.BackendConfig) (types.BackendStorage, error) {
	factoriesMu.RLock()
	f := factories[cfg.Type]
	factoriesMu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("unknown storage type %q (have %v)", cfg.Type, Types())
	}
	return f(cfg)
}

// Types lists the registered storage types in order.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, string(t))
	}
	slices.Sort(out)
	return out
}
