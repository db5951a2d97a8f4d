// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

// EventType categorizes job events.
type EventType string

const (
	EventJobCreated EventType = "vospace:Job:Created"
	EventJobState   EventType = "vospace:Job:StateChanged"
	EventJob        EventType = "vospace:Job:*"
)

// JobEvent is published for every transfer job state change.
type JobEvent struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	Region    string    `json:"region,omitempty"`
	Sequencer string    `json:"sequencer"`

	JobID     string `json:"jobId"`
	Owner     string `json:"owner"`
	Direction string `json:"direction"`
	Target    string `json:"target"`
	State     string `json:"state"`
	Previous  string `json:"previousState,omitempty"`
	Note      string `json:"note,omitempty"`
}

// NewJobEvent describes job after a move from prev. An empty prev marks
// the creation of the job.
func NewJobEvent(job *types.TransferJob, prev types.JobState) *JobEvent {
	name := EventJobState
	if prev == "" {
		name = EventJobCreated
	}
	return &JobEvent{
		EventName: string(name),
		JobID:     job.ID.String(),
		Owner:     job.Owner,
		Direction: string(job.Direction),
		Target:    job.Target.String(),
		State:     string(job.State),
		Previous:  string(prev),
		Note:      job.Note,
	}
}

// MatchesEventType checks if an event name matches an event type pattern.
// A trailing '*' matches any suffix.
func MatchesEventType(pattern EventType, eventName string) bool {
	p := string(pattern)
	if p == eventName {
		return true
	}
	if n := len(p); n > 0 && p[n-1] == '*' {
		prefix := p[:n-1]
		return len(eventName) >= len(prefix) && eventName[:len(prefix)] == prefix
	}
	return false
}
