// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// CheckWritableDir verifies dir exists, is a directory and is owner-writable.
func CheckWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, os.ErrInvalid)
	}
	if info.Mode().Perm()&0200 == 0 {
		return fmt.Errorf("%s: %w", dir, os.ErrPermission)
	}
	return nil
}

// ResolvePath expands a leading ~ and environment variables.
func ResolvePath(path string) string {
	switch {
	case path == "~":
		if usr, err := user.Current(); err == nil {
			path = usr.HomeDir
		}
	case strings.HasPrefix(path, "~/"):
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}
