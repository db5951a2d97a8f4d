// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package regions is the best-effort registry of storage regions. It is not
// a consensus mechanism: entries may be stale and callers retry elsewhere.
package regions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RegionInfo is what clients need to pick a region before creating a job.
type RegionInfo struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	BulkAddr  string    `json:"bulk_addr,omitempty"`
	Reachable bool      `json:"reachable"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
}

// Peer is a statically configured region.
type Peer struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	BulkAddr string `mapstructure:"bulk_addr"`
}

// Config holds region registry configuration.
type Config struct {
	// Name is this server's region. Empty disables the regions extension.
	Name string `mapstructure:"name"`

	// URL and BulkAddr are advertised for this region.
	URL      string `mapstructure:"url"`
	BulkAddr string `mapstructure:"bulk_addr"`

	// Peers lists the other known regions.
	Peers []Peer `mapstructure:"peers"`

	// Registry selects the implementation: "static" or "redis".
	Registry string `mapstructure:"registry"`

	// HeartbeatTTL is how long a redis heartbeat stays valid (seconds).
	HeartbeatTTL int `mapstructure:"heartbeat_ttl"`
}

// GetHeartbeatTTL returns the heartbeat TTL as a Duration.
func (c *Config) GetHeartbeatTTL() time.Duration {
	if c == nil || c.HeartbeatTTL <= 0 {
		return 30 * time.Second // Default
	}
	return time.Duration(c.HeartbeatTTL) * time.Second
}

// IsConfigured returns true if this server belongs to a region.
func (c *Config) IsConfigured() bool {
	return c != nil && c.Name != ""
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.IsConfigured() {
		return nil
	}
	seen := map[string]bool{c.Name: true}
	for _, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("regions.peers: name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("regions.peers: duplicate region %q", p.Name)
		}
		seen[p.Name] = true
	}
	switch strings.ToLower(c.Registry) {
	case "", "static", "redis":
	default:
		return fmt.Errorf("regions.registry: unknown registry %q", c.Registry)
	}
	return nil
}

// self returns the local region as a peer.
func (c *Config) self() Peer {
	return Peer{Name: c.Name, URL: c.URL, BulkAddr: c.BulkAddr}
}

// Registry reports the known regions.
type Registry interface {
	// Local returns the name of this server's region.
	Local() string

	// Regions returns every known region ordered by name.
	Regions(ctx context.Context) ([]RegionInfo, error)
}

func sortByName(infos []RegionInfo) {
	slices.SortFunc(infos, func(a, b RegionInfo) int { return strings.Compare(a.Name, b.Name) })
}
