// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagLoader reads a setting with CLI precedence: a flag the user set wins,
// otherwise viper resolves env > config file > flag default.
type FlagLoader struct {
	cmd *cobra.Command
	v   *viper.Viper
}

// NewFlagLoader creates a FlagLoader for cmd backed by the global viper.
func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd, v: viper.GetViper()}
}

func flagOr[T any](f *FlagLoader, name string, fromFlag func(string) (T, error), fromViper func(string) T) T {
	if f.cmd.Flags().Changed(name) {
		if val, err := fromFlag(name); err == nil {
			return val
		}
	}
	return fromViper(name)
}

func (f *FlagLoader) String(name string) string {
	return flagOr(f, name, f.cmd.Flags().GetString, f.v.GetString)
}

func (f *FlagLoader) Int(name string) int {
	return flagOr(f, name, f.cmd.Flags().GetInt, f.v.GetInt)
}

func (f *FlagLoader) Int64(name string) int64 {
	return flagOr(f, name, f.cmd.Flags().GetInt64, f.v.GetInt64)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	return flagOr(f, name, f.cmd.Flags().GetDuration, f.v.GetDuration)
}
