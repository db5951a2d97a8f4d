// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package regions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
)

// KeyPrefix namespaces heartbeat keys: vospace:regions:{name}.
const KeyPrefix = "vospace:regions:"

type heartbeat struct {
	URL      string    `json:"url"`
	BulkAddr string    `json:"bulk_addr,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Redis discovers regions through heartbeat keys with a TTL. A configured
// region whose key has expired is reported unreachable; regions that
// heartbeat without being configured are included too.
type Redis struct {
	client *redis.Client
	cfg    Config
	ttl    time.Duration
	now    func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRedis creates a registry using an existing client.
func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg,
		ttl:    cfg.GetHeartbeatTTL(),
		now:    func() time.Time { return time.Now().UTC() },
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *Redis) Local() string { return r.cfg.Name }

// Heartbeat publishes this region's key once.
func (r *Redis) Heartbeat(ctx context.Context) error {
	payload, err := json.Marshal(heartbeat{URL: r.cfg.URL, BulkAddr: r.cfg.BulkAddr, LastSeen: r.now()})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, KeyPrefix+r.cfg.Name, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("region heartbeat: %w", err)
	}
	return nil
}

// Start heartbeats in the background at a third of the TTL until Stop.
func (r *Redis) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.done)
		for {
			if err := r.Heartbeat(ctx); err != nil {
				logger.Warn().Err(err).Str("region", r.cfg.Name).Msg("region heartbeat failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-time.After(utils.Jitter(r.ttl/3, 0.1)):
			}
		}
	}()
}

// Stop ends the heartbeat loop and removes this region's key.
func (r *Redis) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.started.Load() {
			<-r.done
		}
		if err := r.client.Del(ctx, KeyPrefix+r.cfg.Name).Err(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove region heartbeat")
		}
	})
}

func (r *Redis) Regions(ctx context.Context) ([]RegionInfo, error) {
	byName := make(map[string]RegionInfo)
	for _, p := range append([]Peer{r.cfg.self()}, r.cfg.Peers...) {
		byName[p.Name] = RegionInfo{Name: p.Name, URL: p.URL, BulkAddr: p.BulkAddr}
	}

	iter := r.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := strings.TrimPrefix(key, KeyPrefix)
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("read region %s: %w", name, err)
		}
		var hb heartbeat
		if err := json.Unmarshal(raw, &hb); err != nil {
			logger.Warn().Err(err).Str("region", name).Msg("ignoring malformed region heartbeat")
			continue
		}
		info := byName[name]
		info.Name = name
		if hb.URL != "" {
			info.URL = hb.URL
		}
		if hb.BulkAddr != "" {
			info.BulkAddr = hb.BulkAddr
		}
		info.Reachable = true
		info.LastSeen = hb.LastSeen
		byName[name] = info
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan regions: %w", err)
	}

	out := make([]RegionInfo, 0, len(byName))
	for _, info := range byName {
		out = append(out, info)
	}
	sortByName(out)
	return out, nil
}

var _ Registry = (*Redis)(nil)
