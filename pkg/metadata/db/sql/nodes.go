// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

// currentRow restricts a query to the current revision row.
func currentRow(d Dialect) string {
	return d.BoolColumn("current_rev", true)
}

// ============================================================================
// Node Operations - Store
// ============================================================================

func (s *Store) IsStored(ctx context.Context, owner string, p node.Path) (bool, error) {
	if p.IsRoot() {
		return false, nil
	}
	var n int
	err := s.QueryRow(ctx, `
		SELECT COUNT(*) FROM nodes
		WHERE owner = $1 AND container = $2 AND path = $3 AND `+currentRow(s.dialect),
		owner, p.Container(), p.RelativePath(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is stored: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetInfo(ctx context.Context, owner string, p node.Path) (node.Info, error) {
	stub, err := getStub(ctx, s, owner, p, false)
	if err != nil {
		return node.Info{}, err
	}
	return stub.Info, nil
}

func (s *Store) GetType(ctx context.Context, owner string, p node.Path) (node.Type, error) {
	if p.IsRoot() {
		return node.TypeContainer, nil
	}
	stub, err := getStub(ctx, s, owner, p, false)
	if err != nil {
		return node.TypeUnknown, err
	}
	return stub.Type, nil
}

func (s *Store) GetChildren(ctx context.Context, owner string, p node.Path, start, count int, includeDeleted bool) ([]node.Stub, int, error) {
	if start < 0 {
		start = 0
	}
	clause, args := childrenClause(owner, p, 1)
	clause += " AND " + currentRow(s.dialect)
	if !includeDeleted {
		clause += " AND " + s.dialect.BoolColumn("deleted", false)
	}

	var children []node.Stub
	var total int
	err := s.WithTx(ctx, readSnapshot, func(q Querier) error {
		if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM nodes WHERE "+clause, args...).Scan(&total); err != nil {
			return fmt.Errorf("count children: %w", err)
		}

		query := "SELECT " + stubColumns + " FROM nodes WHERE " + clause + " ORDER BY container, path"
		pageArgs := append([]any{}, args...)
		n := len(args)
		if count >= 0 {
			query += fmt.Sprintf(" LIMIT %s OFFSET %s", ph(n+1), ph(n+2))
			pageArgs = append(pageArgs, count, start)
		} else if start > 0 {
			// a LIMIT is required before OFFSET in MySQL
			query += fmt.Sprintf(" LIMIT %s OFFSET %s", ph(n+1), ph(n+2))
			pageArgs = append(pageArgs, int64(1)<<62, start)
		}

		rows, err := q.Query(ctx, query, pageArgs...)
		if err != nil {
			return fmt.Errorf("list children: %w", err)
		}
		children, err = scanStubs(rows, q.Dialect())
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return children, total, nil
}

func (s *Store) Subtree(ctx context.Context, owner string, p node.Path, includeDeleted bool) ([]node.Stub, error) {
	clause, args := subtreeClause(owner, p, 1, true)
	clause += " AND " + currentRow(s.dialect)
	if !includeDeleted {
		clause += " AND " + s.dialect.BoolColumn("deleted", false)
	}
	rows, err := s.Query(ctx, "SELECT "+stubColumns+" FROM nodes WHERE "+clause+" ORDER BY container, path", args...)
	if err != nil {
		return nil, fmt.Errorf("list subtree: %w", err)
	}
	return scanStubs(rows, s.dialect)
}

func (s *Store) StoreData(ctx context.Context, owner string, p node.Path, typ node.Type) error {
	if p.IsRoot() {
		return nil
	}
	return s.WithTx(ctx, nil, func(q Querier) error {
		stub, err := getStub(ctx, q, owner, p, true)
		switch {
		case err == nil && stub.Info.Deleted:
			return reviveNode(ctx, q, owner, p, typ, s.now())
		case err == nil:
			return nil
		case !errors.Is(err, db.ErrNodeNotFound):
			return err
		}

		d := q.Dialect()
		_, err = q.Exec(ctx, `
			INSERT `+d.InsertIgnorePrefix()+`INTO nodes
				(owner, container, path, type, revision, current_rev, deleted, mtime, size, content_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`+
			d.InsertIgnoreSuffix("owner, container, path, current_rev"),
			owner, p.Container(), p.RelativePath(), typ.String(), 1, true, false, s.now(), 0, "")
		if err != nil {
			return fmt.Errorf("insert node: %w", err)
		}
		return nil
	})
}

func (s *Store) StoreInfo(ctx context.Context, owner string, p node.Path, info node.Info) error {
	return s.WithTx(ctx, nil, func(q Querier) error {
		var id, revision int64
		var typ string
		deleted := q.Dialect().ScanBool()
		err := q.QueryRow(ctx, `
			SELECT id, revision, type, deleted FROM nodes
			WHERE owner = $1 AND container = $2 AND path = $3 AND `+currentRow(q.Dialect())+`
			FOR UPDATE`,
			owner, p.Container(), p.RelativePath(),
		).Scan(&id, &revision, &typ, deleted.Dest())
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrNodeNotFound
		}
		if err != nil {
			return fmt.Errorf("load node: %w", err)
		}

		if info.Revision < 1 {
			info.Revision = revision
		}
		if info.ModifiedTime.IsZero() {
			info.ModifiedTime = s.now()
		}

		if info.Revision == revision {
			_, err = q.Exec(ctx, `
				UPDATE nodes SET mtime = $1, size = $2, content_type = $3
				WHERE id = $4`,
				info.ModifiedTime.UTC(), info.Size, info.ContentType, id)
			if err != nil {
				return fmt.Errorf("update node info: %w", err)
			}
			return nil
		}

		// new revision: demote the current row, then insert its successor
		if _, err := q.Exec(ctx, `UPDATE nodes SET current_rev = NULL WHERE id = $1`, id); err != nil {
			return fmt.Errorf("demote revision: %w", err)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO nodes
				(owner, container, path, type, revision, current_rev, deleted, mtime, size, content_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			owner, p.Container(), p.RelativePath(), typ, info.Revision, true, deleted.Value(),
			info.ModifiedTime.UTC(), info.Size, info.ContentType)
		if err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		return nil
	})
}

func (s *Store) MarkRemoved(ctx context.Context, owner string, p node.Path) error {
	if p.IsRoot() {
		return nil
	}
	return s.WithTx(ctx, nil, func(q Querier) error {
		if _, err := getStub(ctx, q, owner, p, true); err != nil {
			return err
		}
		clause, args := subtreeClause(owner, p, 3, true)
		_, err := q.Exec(ctx,
			"UPDATE nodes SET deleted = $1, mtime = $2 WHERE "+clause+" AND "+currentRow(q.Dialect())+
				" AND "+q.Dialect().BoolColumn("deleted", false),
			append([]any{true, s.now()}, args...)...)
		if err != nil {
			return fmt.Errorf("mark removed: %w", err)
		}
		return nil
	})
}

func (s *Store) Remove(ctx context.Context, owner string, p node.Path) error {
	if p.IsRoot() {
		return nil
	}
	return s.WithTx(ctx, nil, func(q Querier) error {
		if _, err := getStub(ctx, q, owner, p, true); err != nil {
			return err
		}
		clause, args := subtreeClause(owner, p, 1, true)
		if _, err := q.Exec(ctx, "DELETE FROM node_properties WHERE "+clause, args...); err != nil {
			return fmt.Errorf("remove properties: %w", err)
		}
		if _, err := q.Exec(ctx, "DELETE FROM nodes WHERE "+clause, args...); err != nil {
			return fmt.Errorf("remove nodes: %w", err)
		}
		if !p.IsContainerRoot() {
			return nil
		}
		if _, err := q.Exec(ctx, `DELETE FROM container_regions WHERE owner = $1 AND container = $2`, owner, p.Container()); err != nil {
			return fmt.Errorf("remove regions: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM container_shares WHERE owner = $1 AND container = $2`, owner, p.Container()); err != nil {
			return fmt.Errorf("remove shares: %w", err)
		}
		return nil
	})
}

func (s *Store) Search(ctx context.Context, owner string, p node.Path, pattern string, limit int, includeDeleted bool) ([]node.Path, error) {
	re := searchRegex(p, pattern)
	if _, err := regexp.Compile(re); err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrInvalidPattern, err)
	}

	clause, args := subtreeClause(owner, p, 1, false)
	clause += " AND " + currentRow(s.dialect)
	if !includeDeleted {
		clause += " AND " + s.dialect.BoolColumn("deleted", false)
	}
	n := len(args) + 1
	clause += " AND " + s.dialect.RegexMatch(fullPathExpr, ph(n))
	args = append(args, re)

	query := "SELECT container, path FROM nodes WHERE " + clause + " ORDER BY container, path"
	if limit > 0 {
		query += " LIMIT " + ph(n+1)
		args = append(args, limit)
	}

	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []node.Path
	for rows.Next() {
		var container, path string
		if err := rows.Scan(&container, &path); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		np, err := rowPath(container, path)
		if err != nil {
			return nil, err
		}
		out = append(out, np)
	}
	return out, rows.Err()
}

func (s *Store) Move(ctx context.Context, owner string, p, dst node.Path) error {
	if p.IsRoot() || dst.IsRoot() {
		return fmt.Errorf("%w: cannot move the account root", db.ErrNodeExists)
	}
	return s.WithTx(ctx, nil, func(q Querier) error {
		if _, err := getStub(ctx, q, owner, p, true); err != nil {
			return err
		}
		if _, err := getStub(ctx, q, owner, dst, true); err == nil {
			return db.ErrNodeExists
		} else if !errors.Is(err, db.ErrNodeNotFound) {
			return err
		}

		clause, args := subtreeClause(owner, p, 1, true)
		rows, err := q.Query(ctx, "SELECT DISTINCT container, path FROM nodes WHERE "+clause, args...)
		if err != nil {
			return fmt.Errorf("list moved rows: %w", err)
		}
		type rename struct{ fromC, fromP, toC, toP string }
		var renames []rename
		for rows.Next() {
			var container, path string
			if err := rows.Scan(&container, &path); err != nil {
				rows.Close()
				return fmt.Errorf("scan moved row: %w", err)
			}
			old, err := rowPath(container, path)
			if err != nil {
				rows.Close()
				return err
			}
			np, err := old.Rebase(p, dst)
			if err != nil {
				rows.Close()
				return err
			}
			renames = append(renames, rename{container, path, np.Container(), np.RelativePath()})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range renames {
			for _, table := range []string{"nodes", "node_properties"} {
				_, err := q.Exec(ctx, `
					UPDATE `+table+` SET container = $1, path = $2
					WHERE owner = $3 AND container = $4 AND path = $5`,
					r.toC, r.toP, owner, r.fromC, r.fromP)
				if err != nil {
					return fmt.Errorf("move %s/%s: %w", r.fromC, r.fromP, err)
				}
			}
		}
		return nil
	})
}

func (s *Store) Revisions(ctx context.Context, owner string, p node.Path) ([]node.Info, error) {
	rows, err := s.Query(ctx, `
		SELECT `+stubColumns+` FROM nodes
		WHERE owner = $1 AND container = $2 AND path = $3
		ORDER BY id`,
		owner, p.Container(), p.RelativePath())
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	stubs, err := scanStubs(rows, s.dialect)
	if err != nil {
		return nil, err
	}
	if len(stubs) == 0 {
		return nil, db.ErrNodeNotFound
	}
	out := make([]node.Info, len(stubs))
	for i, st := range stubs {
		out[i] = st.Info
	}
	return out, nil
}

// ============================================================================
// Node Operations - shared
// ============================================================================

// getStub loads the current row of p. forUpdate locks it for the caller's
// transaction.
func getStub(ctx context.Context, q Querier, owner string, p node.Path, forUpdate bool) (node.Stub, error) {
	if p.IsRoot() {
		return node.Stub{}, db.ErrNodeNotFound
	}
	query := `SELECT ` + stubColumns + ` FROM nodes
		WHERE owner = $1 AND container = $2 AND path = $3 AND ` + currentRow(q.Dialect())
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanStub(q.QueryRow(ctx, query, owner, p.Container(), p.RelativePath()), q.Dialect())
}

// reviveNode turns a tombstone back into a fresh node at revision 1,
// dropping its history rows and properties.
func reviveNode(ctx context.Context, q Querier, owner string, p node.Path, typ node.Type, now time.Time) error {
	key := []any{owner, p.Container(), p.RelativePath()}
	if _, err := q.Exec(ctx, `
		DELETE FROM nodes
		WHERE owner = $1 AND container = $2 AND path = $3 AND current_rev IS NULL`, key...); err != nil {
		return fmt.Errorf("drop node history: %w", err)
	}
	if _, err := q.Exec(ctx, `
		DELETE FROM node_properties WHERE owner = $1 AND container = $2 AND path = $3`, key...); err != nil {
		return fmt.Errorf("drop node properties: %w", err)
	}
	_, err := q.Exec(ctx, `
		UPDATE nodes SET deleted = $1, type = $2, mtime = $3, revision = $4, size = $5, content_type = $6
		WHERE owner = $7 AND container = $8 AND path = $9 AND `+currentRow(q.Dialect()),
		false, typ.String(), now, 1, 0, "", owner, p.Container(), p.RelativePath())
	if err != nil {
		return fmt.Errorf("revive node: %w", err)
	}
	return nil
}
