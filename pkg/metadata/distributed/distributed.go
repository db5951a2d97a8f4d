// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package distributed extends a metadata store with the region
// synchronization map of containers.
package distributed

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Store is a db.DB that also answers region queries. All base operations
// go to the embedded DB.
type Store struct {
	db.DB
	registry regions.Registry
}

// New wraps base with the regions extension.
func New(base db.DB, registry regions.Registry) *Store {
	return &Store{DB: base, registry: registry}
}

// Registry returns the region registry.
func (s *Store) Registry() regions.Registry {
	return s.registry
}

func containerOf(p node.Path) (string, error) {
	if p.IsRoot() {
		return "", verrors.InvalidArgument("regions are kept per container")
	}
	return p.Container(), nil
}

// GetNodeRegions returns the regions holding p's container, ordered by name.
// A container with no recorded map lives in the local region only.
func (s *Store) GetNodeRegions(ctx context.Context, owner string, p node.Path) ([]string, error) {
	container, err := containerOf(p)
	if err != nil {
		return nil, err
	}
	m, err := s.DB.GetContainerRegions(ctx, owner, container)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		if local := s.registry.Local(); local != "" {
			return []string{local}, nil
		}
		return []string{}, nil
	}
	return slices.Sorted(maps.Keys(m)), nil
}

// GetNodeRegionMap returns the stored region → partner map of p's container.
func (s *Store) GetNodeRegionMap(ctx context.Context, owner string, p node.Path) (map[string]string, error) {
	container, err := containerOf(p)
	if err != nil {
		return nil, err
	}
	return s.DB.GetContainerRegions(ctx, owner, container)
}

// SetNodeRegions replaces the whole map of p's container with the pairing
// built by BuildSyncMap.
func (s *Store) SetNodeRegions(ctx context.Context, owner string, p node.Path, m map[string]string) error {
	container, err := containerOf(p)
	if err != nil {
		return err
	}
	if len(m) == 0 {
		return verrors.InvalidArgument("no regions defined")
	}
	root, err := node.NewPath(container)
	if err != nil {
		return err
	}
	ok, err := s.DB.IsStored(ctx, owner, root)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("container %s: %w", container, db.ErrNodeNotFound)
	}

	synced := BuildSyncMap(m)
	logger.Ctx(ctx).Debug().
		Str("owner", owner).
		Str("container", container).
		Interface("regions", synced).
		Msg("replacing region map")
	return s.DB.SetContainerRegions(ctx, owner, container, synced)
}

// GetRegionsInfo returns the known regions and their reachability.
func (s *Store) GetRegionsInfo(ctx context.Context) ([]regions.RegionInfo, error) {
	return s.registry.Regions(ctx)
}

// BuildSyncMap rebuilds a requested region → partner map so that every
// pair is mutual: when a names b and b is also a key, the result holds
// a→b and b→a. Requests are honoured in name order of the requesting key;
// a key whose partner is empty, itself, not a key, or already taken by an
// earlier pair is left unsynchronized ("").
func BuildSyncMap(requested map[string]string) map[string]string {
	keys := slices.Sorted(maps.Keys(requested))
	out := make(map[string]string, len(requested))
	for _, a := range keys {
		b := requested[a]
		if b == "" || b == a {
			continue
		}
		if _, ok := requested[b]; !ok {
			continue
		}
		_, aPaired := out[a]
		_, bPaired := out[b]
		if aPaired || bPaired {
			continue
		}
		out[a], out[b] = b, a
	}
	for _, a := range keys {
		if _, ok := out[a]; !ok {
			out[a] = ""
		}
	}
	return out
}
