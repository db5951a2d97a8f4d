// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql provides a MySQL implementation of the db.DB interface.
package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/vospace/pkg/metadata/db/sql"
)

// TLSMode specifies how TLS should be configured for MySQL connections
type TLSMode string

const (
	// TLSModeDisabled disables TLS
	TLSModeDisabled TLSMode = "disabled"
	// TLSModePreferred uses TLS if the server offers it
	TLSModePreferred TLSMode = "preferred"
	// TLSModeRequired requires TLS but skips certificate verification
	TLSModeRequired TLSMode = "required"
	// TLSModeVerifyCA requires TLS and verifies the server certificate against a CA
	TLSModeVerifyCA TLSMode = "verify-ca"
)

// tlsConfigName is the name the verify-ca config is registered under.
const tlsConfigName = "vospace"

// MySQL implements db.DB using MySQL as the backing store
type MySQL struct {
	*dbsql.Store
}

// NewMySQL creates a new MySQL-backed database.
func NewMySQL(cfg db.Config) (*MySQL, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	sqlCfg := dbsql.ConfigFrom(cfg)
	sqlCfg.Driver = db.DriverMySQL
	store, err := dbsql.Open("mysql", dsn, dbsql.MySQLDialect{}, sqlCfg)
	if err != nil {
		return nil, err
	}
	return &MySQL{Store: store}, nil
}

// BuildDSN normalizes cfg.DSN: time columns are parsed in UTC and the TLS
// mode is applied.
func BuildDSN(cfg db.Config) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	switch TLSMode(cfg.TLSMode) {
	case "", TLSModeDisabled:
	case TLSModePreferred:
		mc.TLSConfig = "preferred"
	case TLSModeRequired:
		mc.TLSConfig = "skip-verify"
	case TLSModeVerifyCA:
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLSCAFile != "" {
			caCert, err := os.ReadFile(cfg.TLSCAFile)
			if err != nil {
				return "", fmt.Errorf("read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return "", fmt.Errorf("failed to append CA certificate")
			}
			tlsConfig.RootCAs = pool
		}
		if err := mysql.RegisterTLSConfig(tlsConfigName, tlsConfig); err != nil {
			return "", fmt.Errorf("register TLS config: %w", err)
		}
		mc.TLSConfig = tlsConfigName
	default:
		return "", fmt.Errorf("unknown TLS mode: %s", cfg.TLSMode)
	}
	return mc.FormatDSN(), nil
}

// Ensure MySQL implements db.DB
var _ db.DB = (*MySQL)(nil)
