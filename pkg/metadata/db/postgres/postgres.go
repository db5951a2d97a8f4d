// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres provides a PostgreSQL implementation of the db.DB interface.
package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/vospace/pkg/metadata/db/sql"
)

// ApplicationName is reported to the server for every connection.
const ApplicationName = "vospace"

// Postgres implements db.DB using PostgreSQL as the backing store
type Postgres struct {
	*dbsql.Store
}

// NewPostgres creates a new PostgreSQL-backed database.
// cfg.DSN is a URL or keyword/value connection string.
func NewPostgres(cfg db.Config) (*Postgres, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = ApplicationName
	}
	// timestamps are written in UTC and must come back in UTC
	connConfig.RuntimeParams["timezone"] = "UTC"

	sqlCfg := dbsql.ConfigFrom(cfg)
	sqlCfg.Driver = db.DriverPostgres
	store, err := dbsql.Open("pgx", stdlib.RegisterConnConfig(connConfig), dbsql.PostgresDialect{}, sqlCfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{Store: store}, nil
}

// Ensure Postgres implements db.DB
var _ db.DB = (*Postgres)(nil)
