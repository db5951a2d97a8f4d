// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const owner = "alice"

func newStore(t *testing.T) *Store {
	t.Helper()
	registry := regions.NewStatic(regions.Config{
		Name:  "east",
		URL:   "http://east",
		Peers: []regions.Peer{{Name: "west", URL: "http://west"}},
	})
	s := New(memory.New(), registry)
	require.NoError(t, s.StoreData(context.Background(), owner, node.MustParsePath("/c1"), node.TypeContainer))
	return s
}

func TestBuildSyncMap(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want map[string]string
	}{
		{
			name: "single unsynchronized",
			in:   map[string]string{"a": ""},
			want: map[string]string{"a": ""},
		},
		{
			name: "pair made mutual",
			in:   map[string]string{"a": "b", "b": ""},
			want: map[string]string{"a": "b", "b": "a"},
		},
		{
			name: "partner sorting first still paired",
			in:   map[string]string{"west": "east", "east": ""},
			want: map[string]string{"east": "west", "west": "east"},
		},
		{
			name: "conflicting requests keep the first",
			in:   map[string]string{"a": "c", "b": "c", "c": ""},
			want: map[string]string{"a": "c", "b": "", "c": "a"},
		},
		{
			name: "unknown partner dropped",
			in:   map[string]string{"a": "z"},
			want: map[string]string{"a": ""},
		},
		{
			name: "self partner dropped",
			in:   map[string]string{"a": "a"},
			want: map[string]string{"a": ""},
		},
		{
			name: "ring of three",
			in:   map[string]string{"a": "b", "b": "c", "c": "a"},
			want: map[string]string{"a": "b", "b": "a", "c": ""},
		},
		{
			name: "two pairs",
			in:   map[string]string{"a": "b", "b": "a", "c": "d", "d": "c"},
			want: map[string]string{"a": "b", "b": "a", "c": "d", "d": "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSyncMap(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildSyncMap() mismatch (-want +got):\n%s", diff)
			}
			for a, b := range got {
				if _, supplied := tt.in[b]; b != "" && supplied {
					assert.Equal(t, a, got[b], "%s -> %s not mutual", a, b)
				}
			}
		})
	}
}

func TestStore_NodeRegions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p := node.MustParsePath("/c1/sub/file")

	got, err := s.GetNodeRegions(ctx, owner, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"east"}, got, "defaults to the local region")

	require.NoError(t, s.SetNodeRegions(ctx, owner, p, map[string]string{"west": "east", "east": ""}))
	got, err = s.GetNodeRegions(ctx, owner, node.MustParsePath("/c1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"east", "west"}, got)

	m, err := s.GetNodeRegionMap(ctx, owner, p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"east": "west", "west": "east"}, m)

	// whole-map replace
	require.NoError(t, s.SetNodeRegions(ctx, owner, p, map[string]string{"north": ""}))
	got, err = s.GetNodeRegions(ctx, owner, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"north"}, got)
}

func TestStore_SetNodeRegionsErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.SetNodeRegions(ctx, owner, node.MustParsePath("/c1"), nil)
	assert.True(t, verrors.Is(err, verrors.CodeInvalidArgument))

	err = s.SetNodeRegions(ctx, owner, node.RootPath, map[string]string{"east": ""})
	assert.True(t, verrors.Is(err, verrors.CodeInvalidArgument))

	err = s.SetNodeRegions(ctx, owner, node.MustParsePath("/missing"), map[string]string{"east": ""})
	assert.ErrorIs(t, err, db.ErrNodeNotFound)
}

func TestStore_GetRegionsInfo(t *testing.T) {
	s := newStore(t)
	infos, err := s.GetRegionsInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "east", infos[0].Name)
	assert.Equal(t, "http://west", infos[1].URL)
}
