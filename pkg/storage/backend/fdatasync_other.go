// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import "os"

func syncData(f *os.File) error { return f.Sync() }

func dropCache(*os.File) error { return nil }

func preallocate(*os.File, int64) error { return nil }

// fsUsage reports zeros where statfs is unavailable.
func fsUsage(string) (total, used uint64, err error) { return 0, 0, nil }
