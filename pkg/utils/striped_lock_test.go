// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripedLock_SerializesSameKey(t *testing.T) {
	l := NewStripedLock()

	var wg sync.WaitGroup
	counter := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("job-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestStripedLock_DoReturnsError(t *testing.T) {
	l := NewStripedLock()
	want := errors.New("boom")

	err := l.Do("k", func() error { return want })
	assert.ErrorIs(t, err, want)

	// lock must be released after Do
	unlock := l.Lock("k")
	unlock()
}
