// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"net/url"
	"strings"

	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// Scheme is the URI scheme of node identifiers.
const Scheme = "vos"

// DefaultAuthority is used when a bare path is parsed without an explicit authority.
const DefaultAuthority = "edu.jhu!vospace"

// Identifier is a globally addressable node: vos://authority!service/container/path.
type Identifier struct {
	Authority string
	Path      Path
}

// NewIdentifier binds a path to an authority.
func NewIdentifier(authority string, p Path) Identifier {
	if authority == "" {
		authority = DefaultAuthority
	}
	return Identifier{Authority: authority, Path: p}
}

// ParseIdentifier accepts "vos://auth!svc/c/p" and bare "/c/p" forms; bare
// paths take defaultAuthority.
func ParseIdentifier(raw, defaultAuthority string) (Identifier, error) {
	if defaultAuthority == "" {
		defaultAuthority = DefaultAuthority
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, verrors.InvalidPath("empty identifier")
	}

	prefix := Scheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		if strings.Contains(raw, "://") {
			return Identifier{}, verrors.InvalidPath("identifier %q has an unsupported scheme", raw)
		}
		p, err := ParsePath(raw, "")
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{Authority: defaultAuthority, Path: p}, nil
	}

	rest := raw[len(prefix):]
	authority, encoded, _ := strings.Cut(rest, "/")
	if authority == "" || !strings.Contains(authority, "!") {
		return Identifier{}, verrors.InvalidPath("identifier %q has no authority!service part", raw)
	}

	decoded := make([]string, 0, 4)
	for _, seg := range strings.Split(encoded, "/") {
		if seg == "" {
			continue
		}
		s, err := url.PathUnescape(seg)
		if err != nil {
			return Identifier{}, verrors.InvalidPath("identifier %q: %v", raw, err)
		}
		if strings.ContainsRune(s, '/') {
			return Identifier{}, verrors.InvalidPath("identifier %q encodes '/' inside a segment", raw)
		}
		decoded = append(decoded, s)
	}

	p, err := ParsePath(strings.Join(decoded, "/"), "")
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{Authority: authority, Path: p}, nil
}

// String is byte stable for equal identifiers; segments are path-escaped.
func (id Identifier) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(id.Authority)
	if id.Path.IsRoot() {
		return b.String()
	}
	b.WriteByte('/')
	b.WriteString(url.PathEscape(id.Path.Container()))
	for _, s := range id.Path.segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// Equal compares authority and path.
func (id Identifier) Equal(o Identifier) bool {
	return id.Authority == o.Authority && id.Path.Equal(o.Path)
}

// WithPath returns a copy of id addressing p.
func (id Identifier) WithPath(p Path) Identifier {
	return Identifier{Authority: id.Authority, Path: p}
}

// Parent returns the identifier of the enclosing path.
func (id Identifier) Parent() Identifier {
	return id.WithPath(id.Path.Parent())
}
