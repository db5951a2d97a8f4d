// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- nodes
CREATE TABLE a (x INT);

-- default with a semicolon
CREATE TABLE b (s VARCHAR(8) DEFAULT ';');
INSERT INTO b VALUES ('it''s; fine');
-- trailing comment only
`
	got := SplitStatements(script)
	assert.Equal(t, []string{
		"CREATE TABLE a (x INT)",
		"CREATE TABLE b (s VARCHAR(8) DEFAULT ';')",
		"INSERT INTO b VALUES ('it''s; fine')",
	}, got)
}

func TestSplitStatements_Empty(t *testing.T) {
	assert.Empty(t, SplitStatements("-- nothing here\n\n"))
}

func TestConfigFrom_FillsPoolDefaults(t *testing.T) {
	cfg := ConfigFrom(db.Config{Driver: db.DriverMySQL, DSN: "u@/vos", MaxOpenConns: 7})
	assert.Equal(t, 7, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, time.Minute, cfg.ConnMaxIdleTime)
	assert.Equal(t, "u@/vos", cfg.DSN)
}
