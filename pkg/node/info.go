// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Type distinguishes containers from data nodes.
type Type int

const (
	TypeUnknown Type = iota
	TypeContainer
	TypeData
)

func (t Type) String() string {
	switch t {
	case TypeContainer:
		return "CONTAINER_NODE"
	case TypeData:
		return "DATA_NODE"
	default:
		return "UNKNOWN"
	}
}

// ParseType parses the textual form written by String.
func ParseType(s string) (Type, error) {
	switch s {
	case "CONTAINER_NODE", "container", "ContainerNode":
		return TypeContainer, nil
	case "DATA_NODE", "data", "DataNode":
		return TypeData, nil
	default:
		return TypeUnknown, verrors.InvalidArgument("unknown node type %q", s)
	}
}

// Info is the mutable metadata of the current revision of a node.
type Info struct {
	Revision     int64
	Deleted      bool
	ModifiedTime time.Time
	Size         int64
	ContentType  string
}

// Stub is a lightweight listing entry.
type Stub struct {
	Path Path
	Type Type
	Info Info
}
