// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd holds the vospace command line.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/vospace/pkg/env"
	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
)

const configName = "vospace"

var rootCmd = &cobra.Command{
	Use:   "vospace",
	Short: "VOSpace node storage and transfer service",
	Long: `vospace stores hierarchical nodes (containers and data) per owner and
moves their bytes with asynchronous transfer jobs over HTTP or the bulk
TCP protocol.`,
	PersistentPreRun: initialize,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "", "Log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
}

// initialize merges the configuration file and applies the log level.
func initialize(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration(configName, false)
	if env.Load() == env.Local && os.Getenv("LOG_FORMAT") != "json" {
		logger.SetOutput(logger.ConsoleWriter())
	}

	if lvl, _ := cmd.Flags().GetString("log_level"); lvl != "" {
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			logger.Warn().Str("log_level", lvl).Msg("unknown log level, keeping default")
			return
		}
		logger.SetLevel(level)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
