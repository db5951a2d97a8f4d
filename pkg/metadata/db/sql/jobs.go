// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

const jobColumns = `id, owner, direction, target, local_target, protocols, views, keep_bytes, state, created_at, start_time, end_time, note`

// ============================================================================
// Job Operations
// ============================================================================

func (s *Store) InsertJob(ctx context.Context, job *types.TransferJob) error {
	protocols, err := json.Marshal(job.Protocols)
	if err != nil {
		return fmt.Errorf("marshal protocols: %w", err)
	}
	views, err := json.Marshal(job.Views)
	if err != nil {
		return fmt.Errorf("marshal views: %w", err)
	}
	localTarget := ""
	if job.Direction == types.DirectionLocal {
		localTarget = job.LocalTarget.String()
	}

	_, err = s.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID.String(), job.Owner, string(job.Direction), job.Target.String(), nullString(localTarget),
		string(protocols), string(views), job.KeepBytes, string(job.State),
		job.CreatedAt.UTC(), nullTime(job.StartTime), nullTime(job.EndTime), nullString(job.Note))
	if err != nil {
		if s.dialect.IsDuplicateKey(err) {
			return db.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*types.TransferJob, error) {
	return getJob(ctx, s, id)
}

// UpdateJobState applies the transition in Go and writes it back with a
// compare-and-set on the previous state, so only one concurrent caller wins.
func (s *Store) UpdateJobState(ctx context.Context, id uuid.UUID, state types.JobState, note string, at time.Time) (*types.TransferJob, error) {
	job, err := getJob(ctx, s, id)
	if err != nil {
		return nil, err
	}
	prev := job.State
	if err := db.ApplyTransition(job, state, note, at.UTC()); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, prev, state)
	}

	res, err := s.Exec(ctx, `
		UPDATE jobs SET state = $1, start_time = $2, end_time = $3, note = $4
		WHERE id = $5 AND state = $6`,
		string(job.State), nullTime(job.StartTime), nullTime(job.EndTime), nullString(job.Note),
		id.String(), string(prev))
	if err != nil {
		return nil, fmt.Errorf("update job state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update job state: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", db.ErrStateConflict, prev, state)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, owner string) ([]*types.TransferJob, error) {
	return s.listJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE owner = $1
		ORDER BY created_at DESC, id`, owner)
}

func (s *Store) ListJobsByState(ctx context.Context, state types.JobState) ([]*types.TransferJob, error) {
	return s.listJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = $1
		ORDER BY created_at, id`, string(state))
}

func (s *Store) listJobs(ctx context.Context, query string, arg any) ([]*types.TransferJob, error) {
	rows, err := s.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.TransferJob
	for rows.Next() {
		job, err := scanJob(rows, s.dialect)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func getJob(ctx context.Context, q Querier, id uuid.UUID) (*types.TransferJob, error) {
	return scanJob(q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id.String()), q.Dialect())
}

func scanJob(s scanner, dialect Dialect) (*types.TransferJob, error) {
	var job types.TransferJob
	var idStr, direction, target, state string
	var localTarget, note sql.NullString
	var protocols, views []byte
	var startTime, endTime sql.NullTime
	keepBytes := dialect.ScanBool()

	err := s.Scan(&idStr, &job.Owner, &direction, &target, &localTarget, &protocols, &views,
		keepBytes.Dest(), &state, &job.CreatedAt, &startTime, &endTime, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if job.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("job id %q: %w", idStr, err)
	}
	job.Direction = types.Direction(direction)
	job.State = types.JobState(state)
	job.KeepBytes = keepBytes.Value()
	job.Note = note.String
	job.StartTime = startTime.Time
	job.EndTime = endTime.Time

	if job.Target, err = node.ParseIdentifier(target, ""); err != nil {
		return nil, fmt.Errorf("job %s target: %w", idStr, err)
	}
	if localTarget.Valid {
		if job.LocalTarget, err = node.ParseIdentifier(localTarget.String, ""); err != nil {
			return nil, fmt.Errorf("job %s local target: %w", idStr, err)
		}
	}
	if len(protocols) > 0 && string(protocols) != "null" {
		if err := json.Unmarshal(protocols, &job.Protocols); err != nil {
			return nil, fmt.Errorf("unmarshal protocols: %w", err)
		}
	}
	if len(views) > 0 && string(views) != "null" {
		if err := json.Unmarshal(views, &job.Views); err != nil {
			return nil, fmt.Errorf("unmarshal views: %w", err)
		}
	}
	return &job, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
