// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncData is fdatasync(2): data plus size, no timestamps.
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// dropCache evicts a finished upload from the page cache.
func dropCache(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}

// preallocate reserves size bytes; unsupported filesystems return an error
// the caller ignores.
func preallocate(f *os.File, size int64) error {
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}

func fsUsage(dir string) (total, used uint64, err error) {
	var st unix.Statfs_t
	if err = unix.Statfs(dir, &st); err != nil {
		return 0, 0, err
	}
	bs := uint64(st.Bsize)
	return st.Blocks * bs, (st.Blocks - st.Bavail) * bs, nil
}
