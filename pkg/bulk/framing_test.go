// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bulk

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSize(t *testing.T) {
	tests := []struct {
		size int64
		want [SizeLen]byte
	}{
		{0, [SizeLen]byte{}},
		{5, [SizeLen]byte{5}},
		{0x01020304, [SizeLen]byte{4, 3, 2, 1}},
		{0xFFFFFFFF, [SizeLen]byte{0xFF, 0xFF, 0xFF, 0xFF}},
		// high bytes are never written
		{1<<32 + 7, [SizeLen]byte{7}},
	}
	for _, tt := range tests {
		got := EncodeSize(tt.size)
		assert.Equal(t, tt.want, got, "size %d", tt.size)
		assert.Equal(t, tt.size&0xFFFFFFFF, DecodeSize(got))
	}
}

func TestDecodeSize_IgnoresHighBytes(t *testing.T) {
	assert.Equal(t, int64(9), DecodeSize([SizeLen]byte{9, 0, 0, 0, 1, 2, 3, 4}))
}

func TestToken(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteToken(&buf, "6F1C2A9E-3F43-4B1E-9D6E-1A2B3C4D5E6F"))
	assert.Equal(t, TokenLen, buf.Len())

	tok, err := ReadToken(&buf)
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a9e-3f43-4b1e-9d6e-1a2b3c4d5e6f", tok)

	assert.Error(t, WriteToken(&buf, "job-1"))

	_, err = ReadToken(strings.NewReader("short"))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestExactReader(t *testing.T) {
	r := &exactReader{r: strings.NewReader("abcdef"), n: 4}
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(b))

	r = &exactReader{r: strings.NewReader("ab"), n: 4}
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestThrottle_PreservesBytes(t *testing.T) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte("0123456789"), 2000)
	lim := newLimiter(1 << 30)

	var out bytes.Buffer
	n, err := io.Copy(throttleWriter(ctx, &out, lim), throttleReader(ctx, bytes.NewReader(payload), lim))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, out.Bytes())

	assert.Nil(t, newLimiter(0))
	assert.Equal(t, minBurst, newLimiter(10).Burst())
	assert.Equal(t, maxBurst, newLimiter(1<<40).Burst())
}

func TestThrottle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lim := newLimiter(1)
	lim.AllowN(time.Now(), lim.Burst())

	_, err := throttleWriter(ctx, io.Discard, lim).Write([]byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
