// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package rmw implements the middleware entities — subscriptions, services,
// clients and publishers — that bridge the synchronous take/wait API onto
// the asynchronous callback-driven transport. Each entity owns a bounded
// delivery queue, an event notifier and a wait-condition relay; the
// transport callback adapters feed all three, queue first, so a consumer
// woken by a notification always finds the item already queued.
package rmw

import (
	"errors"

	"github.com/takasehideki/rmw-zenoh/server/otel"
)

// Entity construction errors.
var (
	ErrNilTransport = errors.New("transport cannot be nil")
	ErrEmptyKeyExpr = errors.New("key expression cannot be empty")
	ErrClosed       = errors.New("entity has been closed")

	// ErrDuplicateSequence reports a correlation-table insert conflict.
	ErrDuplicateSequence = errors.New("sequence number already pending")

	// ErrUnknownSequence reports a response for a sequence number with no
	// pending request.
	ErrUnknownSequence = errors.New("no pending request for sequence number")
)

// Options configures an entity at creation time.
type Options struct {
	// QueueDepth bounds the delivery queue; values below 1 are clamped.
	QueueDepth int

	// EventStatusDepth bounds the per-kind event status queues.
	EventStatusDepth int

	// Metrics receives delivery accounting; nil disables it.
	Metrics *otel.Metrics
}

func (o Options) queueDepth() int {
	if o.QueueDepth < 1 {
		return 1
	}
	return o.QueueDepth
}

func (o Options) eventStatusDepth() int {
	if o.EventStatusDepth < 1 {
		return 10
	}
	return o.EventStatusDepth
}
