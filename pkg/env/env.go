// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"sync"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	Env string

	mu sync.RWMutex
)

func IsLocal() bool {
	return current() == Local
}

func IsProduction() bool {
	return current() == Production
}

func current() string {
	mu.RLock()
	defer mu.RUnlock()
	return Env
}

// Load re-reads ENV from viper. Call after the configuration file is merged.
func Load() string {
	mu.Lock()
	defer mu.Unlock()
	Env = viper.GetString("ENV")
	if Env == "" {
		Env = Local
	}
	return Env
}

func init() {
	Load()
}
