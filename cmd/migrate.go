// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metadata database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	f := migrateCmd.Flags()
	f.String("db.driver", "", "Metadata database driver (postgres, mysql); defaults to the configured one")
	f.String("db.dsn", "", "Metadata database connection string; defaults to the configured one")
	f.Duration("timeout", 5*time.Minute, "Give up after this long")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	cfg := db.DefaultConfig(db.Driver(f.String("db.driver")))
	cfg.DSN = f.String("db.dsn")
	if cfg.Driver == db.DriverMemory || cfg.Driver == "" {
		return fmt.Errorf("the memory driver has nothing to migrate")
	}
	if cfg.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.Duration("timeout"))
	defer cancel()

	store, _, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().
		Str("driver", string(cfg.Driver)).
		Dur("took", time.Since(start)).
		Msg("migrations applied")
	return nil
}
