// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ConfigurationFileDirectory is searched before the default locations.
var ConfigurationFileDirectory string

var configSearchPath = []string{".", "$HOME/.vospace", "/etc/vospace/"}

// LoadConfiguration merges name.{yaml,toml,json,...} into the global viper
// and maps environment variables onto nested keys, so VOSPACE_DB_DSN sets
// db.dsn. It reports whether a file was merged. With required set, a
// missing or broken file is fatal.
func LoadConfiguration(name string, required bool) bool {
	viper.SetConfigName(name)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	for _, dir := range configSearchPath {
		viper.AddConfigPath(dir)
	}
	viper.SetEnvPrefix("vospace")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.MergeInConfig()
	if err == nil {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("configuration loaded")
		return true
	}

	ev := log.Warn().Err(err)
	if errors.As(err, new(viper.ConfigFileNotFoundError)) {
		ev = log.Info()
	}
	if required {
		ev = log.Fatal().Err(err)
	}
	ev.Str("name", name).Msg("no configuration file merged")
	return false
}
