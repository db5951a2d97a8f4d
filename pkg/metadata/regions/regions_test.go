// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package regions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Name:     "east",
		URL:      "http://east:8080",
		BulkAddr: "east:9000",
		Peers: []Peer{
			{Name: "west", URL: "http://west:8080", BulkAddr: "west:9000"},
		},
		HeartbeatTTL: 10,
	}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestConfig_Validate(t *testing.T) {
	var empty *Config
	assert.NoError(t, empty.Validate())
	assert.Equal(t, 30*time.Second, empty.GetHeartbeatTTL())

	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	dup := testConfig()
	dup.Peers = append(dup.Peers, Peer{Name: "east"})
	assert.Error(t, dup.Validate())

	bad := testConfig()
	bad.Registry = "zookeeper"
	assert.Error(t, bad.Validate())
}

func TestStatic_Regions(t *testing.T) {
	s := NewStatic(testConfig())
	assert.Equal(t, "east", s.Local())

	infos, err := s.Regions(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "east", infos[0].Name)
	assert.Equal(t, "west", infos[1].Name)
	assert.True(t, infos[1].Reachable)
	assert.Equal(t, "west:9000", infos[1].BulkAddr)
}

func TestRedis_HeartbeatAndExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	east := NewRedis(client, testConfig())
	require.NoError(t, east.Heartbeat(ctx))

	infos, err := east.Regions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].Reachable, "east heartbeated")
	assert.False(t, infos[0].LastSeen.IsZero())
	assert.False(t, infos[1].Reachable, "west never heartbeated")

	mr.FastForward(11 * time.Second)

	infos, err = east.Regions(ctx)
	require.NoError(t, err)
	assert.False(t, infos[0].Reachable, "heartbeat expired")
}

func TestRedis_UnconfiguredRegionDiscovered(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	north := NewRedis(client, Config{Name: "north", URL: "http://north:8080"})
	require.NoError(t, north.Heartbeat(ctx))

	east := NewRedis(client, testConfig())
	infos, err := east.Regions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "north", infos[1].Name)
	assert.True(t, infos[1].Reachable)
	assert.Equal(t, "http://north:8080", infos[1].URL)
}

func TestRedis_StartStop(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	east := NewRedis(client, testConfig())
	east.Start(ctx)
	require.Eventually(t, func() bool { return mr.Exists(KeyPrefix + "east") }, time.Second, 10*time.Millisecond)

	east.Stop(ctx)
	assert.False(t, mr.Exists(KeyPrefix+"east"))
	east.Stop(ctx)
}
