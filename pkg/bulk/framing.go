// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bulk

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	// TokenLen is the length of the handshake token: a job id in its
	// canonical 36 character form.
	TokenLen = 36

	// SizeLen is the length of the size prefix.
	SizeLen = 8
)

// EncodeSize packs size into the 8-byte prefix. Only the low 32 bits are
// carried, little endian; the upper four bytes are always zero, so sizes of
// 4 GiB and above wrap.
func EncodeSize(size int64) [SizeLen]byte {
	var b [SizeLen]byte
	binary.LittleEndian.PutUint32(b[:4], uint32(size))
	return b
}

// DecodeSize reads the low 32 bits of an 8-byte prefix written by EncodeSize.
func DecodeSize(b [SizeLen]byte) int64 {
	return int64(binary.LittleEndian.Uint32(b[:4]))
}

// ReadToken reads the handshake token. It does not check that a job with
// that id exists.
func ReadToken(r io.Reader) (string, error) {
	var b [TokenLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return string(b[:]), nil
}

// WriteToken writes id as a handshake token.
func WriteToken(w io.Writer, id string) error {
	u, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", id, err)
	}
	_, err = io.WriteString(w, u.String())
	return err
}

func readSize(r io.Reader) (int64, error) {
	var b [SizeLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read size: %w", err)
	}
	return DecodeSize(b), nil
}

func writeSize(w io.Writer, size int64) error {
	b := EncodeSize(size)
	_, err := w.Write(b[:])
	return err
}

// exactReader reads n bytes from r and reports io.ErrUnexpectedEOF if r
// ends first.
type exactReader struct {
	r io.Reader
	n int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.n {
		p = p[:e.n]
	}
	n, err := e.r.Read(p)
	e.n -= int64(n)
	if err == io.EOF && e.n > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
