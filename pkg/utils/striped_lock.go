// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"hash/fnv"
	"sync"
)

const numStripes = 256

// StripedLock serializes work per key without a lock per key.
// Keys hash onto a fixed set of mutexes with FNV-1a, so unrelated keys may
// occasionally share a stripe.
type StripedLock struct {
	stripes [numStripes]sync.Mutex
}

// NewStripedLock creates a StripedLock.
func NewStripedLock() *StripedLock {
	return &StripedLock{}
}

func (l *StripedLock) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.stripes[h.Sum32()%numStripes]
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *StripedLock) Lock(key string) func() {
	m := l.stripe(key)
	m.Lock()
	return m.Unlock
}

// Do runs fn while holding the stripe for key.
func (l *StripedLock) Do(key string, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}
