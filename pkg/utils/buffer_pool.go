// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"io"
	"math/bits"
	"sync"
)

// Size classes are powers of two from 4KiB to 1MiB.
const (
	minPoolSize   = 1 << 12
	maxPoolSize   = 1 << 20
	numPoolLevels = 9

	// CopyBufferSize is the buffer used for streaming node bytes.
	CopyBufferSize = 256 << 10
)

var bufferPools [numPoolLevels]sync.Pool

func init() {
	for i := range bufferPools {
		size := minPoolSize << i
		bufferPools[i] = sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
}

// poolIndex returns -1 when size is larger than the biggest class.
func poolIndex(size int) int {
	if size <= minPoolSize {
		return 0
	}
	if size > maxPoolSize {
		return -1
	}
	idx := bits.Len(uint(size-1)) - 12
	if idx >= numPoolLevels {
		return -1
	}
	return idx
}

// GetBuffer returns a slice of exactly size bytes, backed by a pooled array
// when one fits. Return it with PutBuffer.
func GetBuffer(size int) []byte {
	idx := poolIndex(size)
	if idx < 0 {
		return make([]byte, size)
	}
	bufPtr := bufferPools[idx].Get().(*[]byte)
	return (*bufPtr)[:size]
}

// PutBuffer returns buf to its pool. Buffers not obtained from GetBuffer are dropped.
func PutBuffer(buf []byte) {
	c := cap(buf)
	idx := poolIndex(c)
	if idx < 0 || c != minPoolSize<<idx {
		return
	}
	buf = buf[:c]
	bufferPools[idx].Put(&buf)
}

// CopyPooled is io.Copy with a pooled CopyBufferSize buffer.
func CopyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuffer(CopyBufferSize)
	defer PutBuffer(buf)
	return io.CopyBuffer(dst, src, buf)
}

// CopyNPooled copies exactly n bytes, returning io.ErrUnexpectedEOF when src ends early.
func CopyNPooled(dst io.Writer, src io.Reader, n int64) (int64, error) {
	written, err := CopyPooled(dst, io.LimitReader(src, n))
	if err == nil && written < n {
		err = io.ErrUnexpectedEOF
	}
	return written, err
}
