// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool recycles payload delivery buffers. One buffer is taken
// per sample delivered and returned when the sample is released, so hot
// subscriptions do not allocate per delivery.
package bufpool

import (
	"bytes"
	"sync"
)

// Payloads above this are unusual; let the GC take their buffers instead
// of pinning them in the pool.
const maxPooledCap = 64 * 1024

var pool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Get returns an empty buffer ready to hold one payload.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns a buffer to the pool once its payload is released.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledCap {
		return
	}
	pool.Put(b)
}
