// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides the dialect-aware SQL implementation of db.DB shared
// by the PostgreSQL and MySQL drivers. Queries are written once with
// PostgreSQL-style placeholders and rewritten per dialect at execution time.
package sql

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect hides the syntax differences between PostgreSQL and MySQL.
// Every statement in this package is written with $n placeholders.
type Dialect interface {
	Name() string

	// Placeholders renders n bind markers numbered from "from".
	Placeholders(from, n int) string
	ReplacePlaceholders(query string) string

	BoolColumn(column string, value bool) string
	ScanBool() BoolScanner

	// An INSERT wrapped by InsertIgnorePrefix and InsertIgnoreSuffix skips
	// rows that hit a unique key instead of failing.
	InsertIgnorePrefix() string
	InsertIgnoreSuffix(conflictColumns string) string
	UpsertSuffix(conflictColumns string, updateColumns []string) string

	// RegexMatch is a case-sensitive match of expr against the pattern
	// bound to placeholder. Used by node search.
	RegexMatch(expr, placeholder string) string

	IsDuplicateKey(err error) bool
}

// BoolScanner reads a boolean column whatever its storage type.
type BoolScanner interface {
	Dest() any
	Value() bool
}

// mapJoin formats each column with f and joins the results with ", ".
func mapJoin(cols []string, f func(string) string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = f(c)
	}
	return strings.Join(out, ", ")
}

func boolLiteral(column string, value bool, yes, no string) string {
	if value {
		return column + " = " + yes
	}
	return column + " = " + no
}

// PostgresDialect targets PostgreSQL 12 and later.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Placeholders(from, n int) string {
	nums := make([]string, max(n, 0))
	for i := range nums {
		nums[i] = "$" + strconv.Itoa(from+i)
	}
	return strings.Join(nums, ", ")
}

func (PostgresDialect) ReplacePlaceholders(query string) string { return query }

func (PostgresDialect) BoolColumn(column string, value bool) string {
	return boolLiteral(column, value, "TRUE", "FALSE")
}

func (PostgresDialect) ScanBool() BoolScanner { return new(nativeBool) }

func (PostgresDialect) InsertIgnorePrefix() string { return "" }

func (PostgresDialect) InsertIgnoreSuffix(conflictColumns string) string {
	return " ON CONFLICT (" + conflictColumns + ") DO NOTHING"
}

func (PostgresDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return ""
	}
	set := mapJoin(updateColumns, func(c string) string { return c + " = EXCLUDED." + c })
	return " ON CONFLICT (" + conflictColumns + ") DO UPDATE SET " + set
}

func (PostgresDialect) RegexMatch(expr, placeholder string) string {
	return expr + " ~ " + placeholder
}

// pgUniqueViolation is SQLSTATE 23505.
const pgUniqueViolation = "23505"

func (PostgresDialect) IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// MySQLDialect targets MySQL 8, which is needed for REGEXP_LIKE.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) Placeholders(_, n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(", ?", n-1)
}

// ReplacePlaceholders turns each $n into "?". MySQL binds positionally, so
// a query must use its placeholders in argument order and never repeat one.
func (MySQLDialect) ReplacePlaceholders(query string) string {
	isDigit := func(i int) bool { return i < len(query) && query[i] >= '0' && query[i] <= '9' }
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '$' || !isDigit(i+1) {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('?')
		for isDigit(i + 1) {
			i++
		}
	}
	return b.String()
}

func (MySQLDialect) BoolColumn(column string, value bool) string {
	return boolLiteral(column, value, "1", "0")
}

func (MySQLDialect) ScanBool() BoolScanner { return new(tinyintBool) }

func (MySQLDialect) InsertIgnorePrefix() string { return "IGNORE " }

func (MySQLDialect) InsertIgnoreSuffix(string) string { return "" }

func (MySQLDialect) UpsertSuffix(_ string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return ""
	}
	return " ON DUPLICATE KEY UPDATE " +
		mapJoin(updateColumns, func(c string) string { return c + " = VALUES(" + c + ")" })
}

func (MySQLDialect) RegexMatch(expr, placeholder string) string {
	return "REGEXP_LIKE(" + expr + ", " + placeholder + ", 'c')"
}

// mysqlDupEntry is ER_DUP_ENTRY.
const mysqlDupEntry = 1062

func (MySQLDialect) IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDupEntry
}

type nativeBool bool

func (b *nativeBool) Dest() any   { return (*bool)(b) }
func (b *nativeBool) Value() bool { return bool(*b) }

// tinyintBool reads MySQL's TINYINT(1) booleans.
type tinyintBool int

func (b *tinyintBool) Dest() any   { return (*int)(b) }
func (b *tinyintBool) Value() bool { return *b != 0 }
