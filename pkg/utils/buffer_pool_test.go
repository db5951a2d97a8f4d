// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuffer_Sizes(t *testing.T) {
	for _, size := range []int{1, 4096, 5000, 1 << 20, (1 << 20) + 1} {
		buf := GetBuffer(size)
		assert.Len(t, buf, size)
		PutBuffer(buf)
	}
}

func TestPoolIndex(t *testing.T) {
	assert.Equal(t, 0, poolIndex(1))
	assert.Equal(t, 0, poolIndex(4096))
	assert.Equal(t, 1, poolIndex(4097))
	assert.Equal(t, numPoolLevels-1, poolIndex(maxPoolSize))
	assert.Equal(t, -1, poolIndex(maxPoolSize+1))
}

func TestCopyNPooled(t *testing.T) {
	var dst bytes.Buffer
	n, err := CopyNPooled(&dst, strings.NewReader("hello world"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "hello", dst.String())

	dst.Reset()
	_, err = CopyNPooled(&dst, strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
