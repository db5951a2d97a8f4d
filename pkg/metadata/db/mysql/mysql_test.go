// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mysql

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		wantTLS string
	}{
		{name: "default", mode: "", wantTLS: ""},
		{name: "disabled", mode: "disabled", wantTLS: ""},
		{name: "preferred", mode: "preferred", wantTLS: "preferred"},
		{name: "required", mode: "required", wantTLS: "skip-verify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := BuildDSN(db.Config{DSN: "user:pass@tcp(localhost:3306)/vospace", TLSMode: tt.mode})
			require.NoError(t, err)

			mc, err := mysql.ParseDSN(dsn)
			require.NoError(t, err)
			assert.True(t, mc.ParseTime)
			assert.Equal(t, "vospace", mc.DBName)
			assert.Equal(t, tt.wantTLS, mc.TLSConfig)
		})
	}
}

func TestBuildDSN_Errors(t *testing.T) {
	_, err := BuildDSN(db.Config{DSN: "user:pass@tcp(localhost:3306)/vospace", TLSMode: "bogus"})
	assert.Error(t, err)

	_, err = BuildDSN(db.Config{DSN: "user:pass@tcp(localhost:3306)/vospace", TLSMode: "verify-ca", TLSCAFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}
