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
	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

// ============================================================================
// Property Operations
// ============================================================================

func (s *Store) UpdateUserProperties(ctx context.Context, owner string, p node.Path, props map[string]*string) error {
	return s.WithTx(ctx, nil, func(q Querier) error {
		if _, err := getStub(ctx, q, owner, p, true); err != nil {
			return err
		}
		d := q.Dialect()
		for uri, value := range props {
			if db.IsReadOnlyProperty(uri) {
				continue
			}
			if value == nil {
				_, err := q.Exec(ctx, `
					DELETE FROM node_properties
					WHERE owner = $1 AND container = $2 AND path = $3 AND uri = $4`,
					owner, p.Container(), p.RelativePath(), uri)
				if err != nil {
					return fmt.Errorf("delete property %s: %w", uri, err)
				}
				continue
			}
			_, err := q.Exec(ctx, `
				INSERT INTO node_properties (owner, container, path, uri, value)
				VALUES ($1, $2, $3, $4, $5)`+
				d.UpsertSuffix("owner, container, path, uri", []string{"value"}),
				owner, p.Container(), p.RelativePath(), uri, *value)
			if err != nil {
				return fmt.Errorf("upsert property %s: %w", uri, err)
			}
		}
		return nil
	})
}

func (s *Store) GetProperties(ctx context.Context, owner string, p node.Path) ([]db.Property, error) {
	if _, err := getStub(ctx, s, owner, p, false); err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, `
		SELECT uri, value FROM node_properties
		WHERE owner = $1 AND container = $2 AND path = $3
		ORDER BY uri`,
		owner, p.Container(), p.RelativePath())
	if err != nil {
		return nil, fmt.Errorf("get properties: %w", err)
	}
	defer rows.Close()

	out := []db.Property{}
	for rows.Next() {
		var prop db.Property
		if err := rows.Scan(&prop.URI, &prop.Value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		prop.ReadOnly = db.IsReadOnlyProperty(prop.URI)
		out = append(out, prop)
	}
	return out, rows.Err()
}

// ============================================================================
// Share Operations
// ============================================================================

func (s *Store) CreateShare(ctx context.Context, owner string, p node.Path, groupID string, write bool) (string, error) {
	if p.IsRoot() {
		return "", db.ErrNodeNotFound
	}
	container, err := node.NewPath(p.Container())
	if err != nil {
		return "", err
	}
	if _, err := getStub(ctx, s, owner, container, false); err != nil {
		return "", err
	}

	// retry on the (unlikely) token collision
	for attempt := 0; attempt < 3; attempt++ {
		token, err := db.NewShareToken()
		if err != nil {
			return "", err
		}
		_, err = s.Exec(ctx, `
			INSERT INTO container_shares (token, owner, container, group_id, can_write, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			token, owner, p.Container(), nullString(groupID), write, s.now())
		if err == nil {
			return token, nil
		}
		if !s.dialect.IsDuplicateKey(err) {
			return "", fmt.Errorf("create share: %w", err)
		}
	}
	return "", fmt.Errorf("create share: token collisions exhausted")
}

func (s *Store) GetShare(ctx context.Context, token string) (*db.Share, error) {
	var share db.Share
	var groupID sql.NullString
	var createdAt time.Time
	write := s.dialect.ScanBool()
	err := s.QueryRow(ctx, `
		SELECT token, owner, container, group_id, can_write, created_at
		FROM container_shares WHERE token = $1`, token,
	).Scan(&share.Token, &share.Owner, &share.Container, &groupID, write.Dest(), &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	share.GroupID = groupID.String
	share.Write = write.Value()
	share.CreatedAt = createdAt
	return &share, nil
}

// ============================================================================
// Region Operations
// ============================================================================

func (s *Store) GetContainerRegions(ctx context.Context, owner, container string) (map[string]string, error) {
	rows, err := s.Query(ctx, `
		SELECT region, partner FROM container_regions
		WHERE owner = $1 AND container = $2`, owner, container)
	if err != nil {
		return nil, fmt.Errorf("get container regions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var region string
		var partner sql.NullString
		if err := rows.Scan(&region, &partner); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		out[region] = partner.String
	}
	return out, rows.Err()
}

func (s *Store) SetContainerRegions(ctx context.Context, owner, container string, regions map[string]string) error {
	return s.WithTx(ctx, nil, func(q Querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM container_regions WHERE owner = $1 AND container = $2`, owner, container); err != nil {
			return fmt.Errorf("clear container regions: %w", err)
		}
		for region, partner := range regions {
			_, err := q.Exec(ctx, `
				INSERT INTO container_regions (owner, container, region, partner)
				VALUES (`+q.Dialect().Placeholders(1, 4)+`)`,
				owner, container, region, nullString(partner))
			if err != nil {
				return fmt.Errorf("insert region %s: %w", region, err)
			}
		}
		return nil
	})
}
