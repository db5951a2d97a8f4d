// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Direction is the data movement requested by a transfer job.
type Direction string

const (
	DirectionPushToStore   Direction = "PUSH_TO_STORE"
	DirectionPullFromStore Direction = "PULL_FROM_STORE"
	DirectionPushFromStore Direction = "PUSH_FROM_STORE"
	DirectionPullToStore   Direction = "PULL_TO_STORE"
	DirectionLocal         Direction = "LOCAL"
)

// Wire names used in job documents.
var directionWireNames = map[Direction]string{
	DirectionPushToStore:   "pushToVoSpace",
	DirectionPullFromStore: "pullFromVoSpace",
	DirectionPushFromStore: "pushFromVoSpace",
	DirectionPullToStore:   "pullToVoSpace",
}

// ParseDirection accepts both the enum spelling and the wire spelling,
// case-insensitively.
func ParseDirection(s string) (Direction, error) {
	s = strings.TrimSpace(s)
	for d, wire := range directionWireNames {
		if strings.EqualFold(s, string(d)) || strings.EqualFold(s, wire) {
			return d, nil
		}
	}
	if strings.EqualFold(s, string(DirectionLocal)) {
		return DirectionLocal, nil
	}
	return "", verrors.InvalidArgument("unknown direction %q", s)
}

// WireName returns the document spelling; LOCAL has none.
func (d Direction) WireName() string {
	if w, ok := directionWireNames[d]; ok {
		return w
	}
	return string(d)
}

// HasDataChannelEndpoint reports whether the server synthesizes the
// /data/{id} endpoint for this direction.
func (d Direction) HasDataChannelEndpoint() bool {
	return d == DirectionPushToStore || d == DirectionPullFromStore
}

// ExecutesOnServer reports whether the server itself moves the bytes.
func (d Direction) ExecutesOnServer() bool {
	return d == DirectionLocal || d == DirectionPullToStore || d == DirectionPushFromStore
}

// JobState is the phase of a transfer job.
type JobState string

const (
	StatePending   JobState = "PENDING"
	StateQueued    JobState = "QUEUED"
	StateRun       JobState = "RUN"
	StateCompleted JobState = "COMPLETED"
	StateError     JobState = "ERROR"
	StateAborted   JobState = "ABORTED"
)

var jobTransitions = map[JobState][]JobState{
	StatePending: {StateQueued, StateRun, StateError, StateAborted},
	StateQueued:  {StateRun, StateError, StateAborted},
	StateRun:     {StateCompleted, StateError},
}

// ParseJobState parses a state name case-insensitively. "EXECUTING" is
// accepted as RUN.
func ParseJobState(s string) (JobState, error) {
	u := JobState(strings.ToUpper(strings.TrimSpace(s)))
	switch u {
	case StatePending, StateQueued, StateRun, StateCompleted, StateError, StateAborted:
		return u, nil
	case "EXECUTING":
		return StateRun, nil
	case "ABORT":
		return StateAborted, nil
	}
	return "", verrors.InvalidArgument("unknown job state %q", s)
}

// IsTerminal reports whether no further transition is allowed.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateAborted
}

// CanTransition reports whether s → to moves forward along the job lifecycle.
func (s JobState) CanTransition(to JobState) bool {
	return slices.Contains(jobTransitions[s], to)
}

// Sources returns the states from which s is reachable.
func (s JobState) Sources() []JobState {
	var out []JobState
	for from, next := range jobTransitions {
		if slices.Contains(next, s) {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// Standard protocol URIs.
const (
	ProtocolHTTPGet = "ivo://ivoa.net/vospace/core#httpget"
	ProtocolHTTPPut = "ivo://ivoa.net/vospace/core#httpput"
	ProtocolBulk    = "ivo://ivoa.net/vospace/core#udt"
)

// Protocol is one negotiated (protocol URI, endpoint) pair.
type Protocol struct {
	URI      string `json:"uri"`
	Endpoint string `json:"endpoint,omitempty"`
}

// TransferJob is one asynchronous data movement request.
type TransferJob struct {
	ID          uuid.UUID
	Owner       string
	Direction   Direction
	Target      node.Identifier
	LocalTarget node.Identifier // LOCAL only
	Protocols   []Protocol      // ordered, unique by URI
	Views       []string
	KeepBytes   bool
	State       JobState
	CreatedAt   time.Time
	StartTime   time.Time
	EndTime     time.Time
	Note        string
}

// SetProtocol adds or replaces the endpoint for uri, keeping insertion order.
func (j *TransferJob) SetProtocol(uri, endpoint string) {
	for i := range j.Protocols {
		if j.Protocols[i].URI == uri {
			j.Protocols[i].Endpoint = endpoint
			return
		}
	}
	j.Protocols = append(j.Protocols, Protocol{URI: uri, Endpoint: endpoint})
}

// Endpoint returns the endpoint negotiated for uri.
func (j *TransferJob) Endpoint(uri string) (string, bool) {
	for _, p := range j.Protocols {
		if p.URI == uri {
			return p.Endpoint, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (j *TransferJob) Clone() *TransferJob {
	c := *j
	c.Protocols = slices.Clone(j.Protocols)
	c.Views = slices.Clone(j.Views)
	return &c
}
