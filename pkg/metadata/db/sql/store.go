// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
)

// Config is the pool configuration shared by the PostgreSQL and MySQL stores.
type Config struct {
	DSN    string
	Driver db.Driver

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFrom converts the user-facing db.Config, filling unset pool fields
// from the driver defaults.
func ConfigFrom(cfg db.Config) Config {
	d := db.DefaultConfig(cfg.Driver)
	pick := func(v, fallback int) int {
		if v > 0 {
			return v
		}
		return fallback
	}
	return Config{
		DSN:             cfg.DSN,
		Driver:          cfg.Driver,
		MaxOpenConns:    pick(cfg.MaxOpenConns, d.MaxOpenConns),
		MaxIdleConns:    pick(cfg.MaxIdleConns, d.MaxIdleConns),
		ConnMaxLifetime: time.Duration(pick(cfg.ConnMaxLifetime, d.ConnMaxLifetime)) * time.Second,
		ConnMaxIdleTime: time.Duration(pick(cfg.ConnMaxIdleTime, d.ConnMaxIdleTime)) * time.Second,
	}
}

// execer is the subset of *sql.DB and *sql.Tx the stores need.
type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier runs statements written with $n placeholders against either the
// pool or an open transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Dialect() Dialect
}

// rebinding implements Querier on top of an execer.
type rebinding struct {
	conn    execer
	dialect Dialect
}

func (r rebinding) Dialect() Dialect { return r.dialect }

func (r rebinding) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.conn.QueryContext(ctx, r.dialect.ReplacePlaceholders(query), args...)
}

func (r rebinding) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.conn.QueryRowContext(ctx, r.dialect.ReplacePlaceholders(query), args...)
}

func (r rebinding) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.conn.ExecContext(ctx, r.dialect.ReplacePlaceholders(query), args...)
}

// Store implements db.DB for any SQL backend with a Dialect.
type Store struct {
	rebinding
	db  *sql.DB
	now func() time.Time
}

var _ Querier = (*Store)(nil)

// NewStore wraps an already configured pool.
func NewStore(sqlDB *sql.DB, dialect Dialect) *Store {
	return &Store{
		rebinding: rebinding{conn: sqlDB, dialect: dialect},
		db:        sqlDB,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Open opens and pings a pool for driverName.
func Open(driverName, dsn string, dialect Dialect, cfg Config) (*Store, error) {
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewStore(sqlDB, dialect), nil
}

// DB exposes the pool for migrations and pool metrics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction and commits if fn returns nil.
func (s *Store) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(rebinding{conn: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback: %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// readSnapshot keeps a children page and its total count consistent.
var readSnapshot = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

type scanner interface {
	Scan(dest ...any) error
}
