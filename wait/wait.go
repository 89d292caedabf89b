// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wait provides the condition primitive consumers block on and the
// per-entity relay that forwards "data arrived" signals to it.
package wait

import (
	"context"
	"sync"
)

// Condition is a level-triggered wake-up primitive. Signal never blocks and
// coalesces with an undelivered prior signal; Wait consumes one signal or
// returns when the context is done.
type Condition struct {
	ch chan struct{}
}

// NewCondition creates an unsignaled condition.
func NewCondition() *Condition {
	return &Condition{ch: make(chan struct{}, 1)}
}

// Signal wakes a waiter. Safe to call from any goroutine, including
// transport delivery goroutines.
func (c *Condition) Signal() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the condition is signaled or ctx is done. It returns
// ctx.Err() on timeout or cancellation, nil when woken by a signal.
func (c *Condition) Wait(ctx context.Context) error {
	select {
	case <-c.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Relay holds an optional reference to an owner-supplied condition. The
// relay never owns the condition; the owner attaches and detaches it around
// its own waits. Attach, Detach and Notify serialize on one mutex so a
// transport goroutine notifying concurrently with attach or detach is safe.
type Relay struct {
	mu   sync.Mutex
	cond *Condition
}

// Attach replaces any previously attached condition.
func (r *Relay) Attach(c *Condition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cond = c
}

// Detach clears the attached condition. Idempotent.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cond = nil
}

// Notify signals the attached condition if one is present, a no-op
// otherwise. Called once per item delivered while attached.
func (r *Relay) Notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cond != nil {
		r.cond.Signal()
	}
}
