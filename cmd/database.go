// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db/mysql"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db/postgres"
)

// openDatabase connects the configured metadata store. The second return
// is the SQL pool for connection metrics, nil for the memory driver.
func openDatabase(cfg db.Config) (db.DB, *sql.DB, error) {
	switch cfg.Driver {
	case db.DriverMemory, "":
		logger.Warn().Msg("using the in-memory metadata store; nodes and jobs are lost on restart")
		return memory.New(), nil, nil
	case db.DriverPostgres:
		pg, err := postgres.NewPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.DB(), nil
	case db.DriverMySQL:
		my, err := mysql.NewMySQL(cfg)
		if err != nil {
			return nil, nil, err
		}
		return my, my.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// collectPoolMetrics samples the connection pool until ctx is done.
func collectPoolMetrics(ctx context.Context, pool *sql.DB, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.UpdateConnectionMetrics(pool.Stats())
		}
	}
}
