// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	for _, driver := range []Driver{DriverPostgres, DriverMySQL} {
		t.Run(string(driver), func(t *testing.T) {
			migrations, err := LoadMigrations(driver)
			require.NoError(t, err)
			require.NotEmpty(t, migrations)
			assert.Equal(t, 1, migrations[0].Version)
			assert.Equal(t, "init", migrations[0].Name)
			assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS nodes")
			assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS jobs")
		})
	}
}

func TestLoadMigrations_UnknownDriver(t *testing.T) {
	_, err := LoadMigrations(DriverMemory)
	assert.Error(t, err)
}

func TestParseMigrationName(t *testing.T) {
	v, name, err := parseMigrationName("012_add_shares.sql")
	require.NoError(t, err)
	assert.Equal(t, 12, v)
	assert.Equal(t, "add_shares", name)

	for _, bad := range []string{"init.sql", "x_init.sql", "000_init.sql", "001_.sql", "001_init.txt"} {
		_, _, err := parseMigrationName(bad)
		assert.Error(t, err, bad)
	}
}
