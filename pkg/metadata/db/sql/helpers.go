// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

// fullPathExpr is the storage path of a row without its leading slash.
const fullPathExpr = "(CASE WHEN path = '' THEN container ELSE CONCAT(container, '/', path) END)"

// likeEscape is the ESCAPE character used in every LIKE pattern. A backslash
// is avoided because MySQL and PostgreSQL disagree on its string-literal form.
const likeEscape = "!"

// EscapeLike escapes LIKE wildcards in s.
func EscapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

func ph(n int) string { return fmt.Sprintf("$%d", n) }

// subtreeClause selects the rows of p and its descendants (or only its
// descendants when self is false) for owner. Placeholders start at n.
func subtreeClause(owner string, p node.Path, n int, self bool) (string, []any) {
	var b strings.Builder
	b.WriteString("owner = " + ph(n))
	args := []any{owner}
	if p.IsRoot() {
		return b.String(), args
	}
	b.WriteString(" AND container = " + ph(n+1))
	args = append(args, p.Container())

	rel := p.RelativePath()
	switch {
	case rel == "" && !self:
		b.WriteString(" AND path <> ''")
	case rel == "":
	case self:
		fmt.Fprintf(&b, " AND (path = %s OR path LIKE %s ESCAPE '%s')", ph(n+2), ph(n+3), likeEscape)
		args = append(args, rel, EscapeLike(rel)+"/%")
	default:
		fmt.Fprintf(&b, " AND path LIKE %s ESCAPE '%s'", ph(n+2), likeEscape)
		args = append(args, EscapeLike(rel)+"/%")
	}
	return b.String(), args
}

// childrenClause selects the direct children of p for owner.
func childrenClause(owner string, p node.Path, n int) (string, []any) {
	if p.IsRoot() {
		return "owner = " + ph(n) + " AND path = ''", []any{owner}
	}
	base := fmt.Sprintf("owner = %s AND container = %s", ph(n), ph(n+1))
	rel := p.RelativePath()
	if rel == "" {
		return base + " AND path <> '' AND path NOT LIKE '%/%'", []any{owner, p.Container()}
	}
	prefix := EscapeLike(rel) + "/%"
	clause := fmt.Sprintf("%s AND path LIKE %s ESCAPE '%s' AND path NOT LIKE %s ESCAPE '%s'",
		base, ph(n+2), likeEscape, ph(n+3), likeEscape)
	return clause, []any{owner, p.Container(), prefix, prefix + "/%"}
}

// searchRegex anchors pattern below p's storage path.
func searchRegex(p node.Path, pattern string) string {
	prefix := ""
	if !p.IsRoot() {
		prefix = strings.TrimPrefix(p.ToStoragePath(), "/") + "/"
	}
	return "^" + regexp.QuoteMeta(prefix) + ".*" + pattern + ".*"
}

// rowPath rebuilds a node path from its container and path columns.
func rowPath(container, path string) (node.Path, error) {
	if path == "" {
		return node.NewPath(container)
	}
	return node.NewPath(container, strings.Split(path, "/")...)
}

// ============================================================================
// Node Scanning
// ============================================================================

const stubColumns = "container, path, type, revision, deleted, mtime, size, content_type"

func scanStub(s scanner, dialect Dialect) (node.Stub, error) {
	var container, path, typ string
	var info node.Info
	deleted := dialect.ScanBool()
	if err := s.Scan(&container, &path, &typ, &info.Revision, deleted.Dest(), &info.ModifiedTime, &info.Size, &info.ContentType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return node.Stub{}, db.ErrNodeNotFound
		}
		return node.Stub{}, fmt.Errorf("scan node: %w", err)
	}
	info.Deleted = deleted.Value()
	p, err := rowPath(container, path)
	if err != nil {
		return node.Stub{}, fmt.Errorf("stored path %q/%q: %w", container, path, err)
	}
	t, _ := node.ParseType(typ)
	return node.Stub{Path: p, Type: t, Info: info}, nil
}

func scanStubs(rows *sql.Rows, dialect Dialect) ([]node.Stub, error) {
	defer rows.Close()
	var out []node.Stub
	for rows.Next() {
		stub, err := scanStub(rows, dialect)
		if err != nil {
			return nil, err
		}
		out = append(out, stub)
	}
	return out, rows.Err()
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
