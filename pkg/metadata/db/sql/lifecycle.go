// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
)

var _ db.DB = (*Store)(nil)

// Migrate applies pending migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	driver := db.Driver(s.dialect.Name())
	return db.RunMigrations(ctx, &migrator{store: s}, driver)
}

// migrator implements db.Migrator on top of a Store.
type migrator struct {
	store *Store
}

func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.store.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (m *migrator) Apply(ctx context.Context, migration db.Migration) error {
	// the MySQL driver rejects multi-statement scripts, so run them one by one
	return m.store.WithTx(ctx, nil, func(q Querier) error {
		for _, stmt := range SplitStatements(migration.SQL) {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("execute statement: %w", err)
			}
		}
		return nil
	})
}

func (m *migrator) SetVersion(ctx context.Context, version int) error {
	if _, err := m.store.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	return nil
}

// SplitStatements splits a SQL script on semicolons outside of quotes and
// comments. Comment-only statements are dropped.
func SplitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	var quote byte
	inLineComment := false

	flush := func() {
		if stmt := strings.TrimSpace(stripComments(current.String())); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case inLineComment:
			current.WriteByte(c)
			if c == '\n' {
				inLineComment = false
			}
		case quote != 0:
			current.WriteByte(c)
			if c == quote {
				if i+1 < len(script) && script[i+1] == quote {
					current.WriteByte(script[i+1])
					i++
					continue
				}
				quote = 0
			}
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			inLineComment = true
			current.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			current.WriteByte(c)
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return statements
}

// stripComments drops "--" comment lines.
func stripComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
