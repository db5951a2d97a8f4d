// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"pushToVoSpace":   DirectionPushToStore,
		"PULLFROMVOSPACE": DirectionPullFromStore,
		"pushFromVoSpace": DirectionPushFromStore,
		"PULL_TO_STORE":   DirectionPullToStore,
		"local":           DirectionLocal,
	}
	for in, want := range tests {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestJobState_Transitions(t *testing.T) {
	all := []JobState{StatePending, StateQueued, StateRun, StateCompleted, StateError, StateAborted}

	allowed := map[[2]JobState]bool{
		{StatePending, StateQueued}:  true,
		{StatePending, StateRun}:     true,
		{StatePending, StateError}:   true,
		{StatePending, StateAborted}: true,
		{StateQueued, StateRun}:      true,
		{StateQueued, StateError}:    true,
		{StateQueued, StateAborted}:  true,
		{StateRun, StateCompleted}:   true,
		{StateRun, StateError}:       true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]JobState{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, StateRun.CanTransition(StatePending))
	assert.False(t, StateRun.CanTransition(StateAborted))
	for _, s := range []JobState{StateCompleted, StateError, StateAborted} {
		assert.True(t, s.IsTerminal())
	}
	assert.ElementsMatch(t, []JobState{StatePending, StateQueued}, StateAborted.Sources())
}

func TestParseJobState(t *testing.T) {
	s, err := ParseJobState("executing")
	require.NoError(t, err)
	assert.Equal(t, StateRun, s)

	s, err = ParseJobState("ABORT")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, s)

	_, err = ParseJobState("SUSPENDED")
	assert.Error(t, err)
}

func TestTransferJob_Protocols(t *testing.T) {
	j := &TransferJob{}
	j.SetProtocol(ProtocolHTTPGet, "http://a")
	j.SetProtocol(ProtocolHTTPPut, "http://b")
	j.SetProtocol(ProtocolHTTPGet, "http://c")

	require.Len(t, j.Protocols, 2)
	assert.Equal(t, ProtocolHTTPGet, j.Protocols[0].URI)
	ep, ok := j.Endpoint(ProtocolHTTPGet)
	assert.True(t, ok)
	assert.Equal(t, "http://c", ep)

	c := j.Clone()
	c.Protocols[0].Endpoint = "changed"
	assert.Equal(t, "http://c", j.Protocols[0].Endpoint)
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "alice/c1/a/b", StorageKey("alice", node.MustParsePath("/c1/a/b")))
	assert.Equal(t, "alice/c1", StorageKey("alice", node.MustParsePath("/c1")))
}
