// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package node holds the addressing model for stored nodes: paths split into
// a container and relative segments, and globally unique identifiers built on
// top of them.
package node

import (
	"slices"
	"strings"

	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const disallowedChars = `\*?"<>|:`

// Path is a normalized node path: a container name plus the segments below it.
// The zero Path is the account root. A Path with a container and no segments
// is that container's root. Paths are immutable.
type Path struct {
	container string
	segments  []string
}

// RootPath is the account root, above every container.
var RootPath = Path{}

// NewPath builds a Path from already validated parts.
func NewPath(container string, segments ...string) (Path, error) {
	if container == "" && len(segments) > 0 {
		return Path{}, verrors.InvalidPath("segments without a container")
	}
	for _, s := range append([]string{container}, segments...) {
		if err := validateSegment(s, container == ""); err != nil {
			return Path{}, err
		}
	}
	return Path{container: container, segments: slices.Clone(segments)}, nil
}

// ParsePath normalizes a slash-delimited path.
//
// Empty segments and "." are dropped and ".." pops one level. When
// rootContainer is non-empty the raw path is resolved inside that container
// and any attempt to climb out of it fails with InvalidPath.
func ParsePath(raw, rootContainer string) (Path, error) {
	if strings.ContainsRune(rootContainer, '/') {
		return Path{}, verrors.InvalidPath("root container %q contains '/'", rootContainer)
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(disallowedChars, r) {
			return Path{}, verrors.InvalidPath("path %q contains disallowed character %q", raw, r)
		}
	}

	var parts []string
	for _, p := range strings.Split(raw, "/") {
		switch p {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return Path{}, verrors.InvalidPath("path %q escapes its root", raw)
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, p)
		}
	}

	if rootContainer != "" {
		return Path{container: rootContainer, segments: parts}, nil
	}
	if len(parts) == 0 {
		return RootPath, nil
	}
	return Path{container: parts[0], segments: parts[1:]}, nil
}

// MustParsePath is ParsePath for literals; it panics on error.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw, "")
	if err != nil {
		panic(err)
	}
	return p
}

func validateSegment(s string, allowEmpty bool) error {
	if s == "" {
		if allowEmpty {
			return nil
		}
		return verrors.InvalidPath("empty path segment")
	}
	if s == "." || s == ".." || strings.ContainsRune(s, '/') {
		return verrors.InvalidPath("invalid path segment %q", s)
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(disallowedChars, r) {
			return verrors.InvalidPath("segment %q contains disallowed character %q", s, r)
		}
	}
	return nil
}

// Container returns the container name; empty for the account root.
func (p Path) Container() string { return p.container }

// Segments returns a copy of the segments below the container.
func (p Path) Segments() []string { return slices.Clone(p.segments) }

// RelativePath is the slash-joined path below the container, "" for a
// container root. It is the metadata key within a container.
func (p Path) RelativePath() string { return strings.Join(p.segments, "/") }

// ToStoragePath returns the canonical "/container/rel/path" form.
// ParsePath(p.ToStoragePath(), "") yields p again.
func (p Path) ToStoragePath() string {
	if p.container == "" {
		return "/"
	}
	if len(p.segments) == 0 {
		return "/" + p.container
	}
	return "/" + p.container + "/" + p.RelativePath()
}

func (p Path) String() string { return p.ToStoragePath() }

// IsRoot reports whether p is the account root.
func (p Path) IsRoot() bool { return p.container == "" }

// IsContainerRoot reports whether p names a container with no segments.
func (p Path) IsContainerRoot() bool { return p.container != "" && len(p.segments) == 0 }

// Depth is the number of levels below the account root.
func (p Path) Depth() int {
	if p.container == "" {
		return 0
	}
	return 1 + len(p.segments)
}

// Name is the last element: a segment, the container name, or "" at the root.
func (p Path) Name() string {
	if len(p.segments) > 0 {
		return p.segments[len(p.segments)-1]
	}
	return p.container
}

// Parent returns the enclosing path. The root is its own parent.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return RootPath
	}
	return Path{container: p.container, segments: p.segments[:len(p.segments)-1]}
}

// Child appends one segment.
func (p Path) Child(name string) (Path, error) {
	if err := validateSegment(name, false); err != nil {
		return Path{}, err
	}
	if p.container == "" {
		return Path{container: name}, nil
	}
	segs := make([]string, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	return Path{container: p.container, segments: append(segs, name)}, nil
}

// Ancestors lists every enclosing path from the container root down to the
// parent of p, excluding the account root.
func (p Path) Ancestors() []Path {
	if len(p.segments) == 0 {
		return nil
	}
	out := make([]Path, 0, len(p.segments))
	for i := 0; i < len(p.segments); i++ {
		out = append(out, Path{container: p.container, segments: p.segments[:i]})
	}
	return out
}

// IsDescendantOf reports whether p lies strictly below other.
func (p Path) IsDescendantOf(other Path) bool {
	if other.IsRoot() {
		return !p.IsRoot()
	}
	if p.container != other.container || len(p.segments) <= len(other.segments) {
		return false
	}
	return slices.Equal(p.segments[:len(other.segments)], other.segments)
}

// Rebase moves p from under oldRoot to under newRoot.
func (p Path) Rebase(oldRoot, newRoot Path) (Path, error) {
	if p.Equal(oldRoot) {
		return newRoot, nil
	}
	if !p.IsDescendantOf(oldRoot) || oldRoot.IsRoot() || newRoot.IsRoot() {
		return Path{}, verrors.InvalidPath("%s is not below %s", p, oldRoot)
	}
	rest := p.segments[len(oldRoot.segments):]
	segs := append(slices.Clone(newRoot.segments), rest...)
	return Path{container: newRoot.container, segments: segs}, nil
}

// Equal compares structurally.
func (p Path) Equal(o Path) bool {
	return p.container == o.container && slices.Equal(p.segments, o.segments)
}
