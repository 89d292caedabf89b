// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message defines the delivered item variants the queues carry:
// samples, queries and replies. Each variant owns its transport handle and
// releases it exactly once, whichever component holds it at the time
// (the queue on eviction or teardown, the consumer after a successful pop).
package message

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/takasehideki/rmw-zenoh/transport"
)

// NewGID returns a fresh random 16-byte identity.
func NewGID() transport.GID {
	return transport.GID(uuid.New())
}

// Sample is a received publication: the owned payload handle plus the
// receive timestamp and publisher identity delivered with it.
type Sample struct {
	RecvTimestamp uint64
	PublisherGID  transport.GID

	payload  transport.Payload
	released atomic.Bool
}

// NewSample takes ownership of payload.
func NewSample(payload transport.Payload, recvTS uint64, gid transport.GID) *Sample {
	return &Sample{
		RecvTimestamp: recvTS,
		PublisherGID:  gid,
		payload:       payload,
	}
}

// Bytes returns the payload contents. Invalid after Release.
func (s *Sample) Bytes() []byte {
	return s.payload.Bytes()
}

// Release frees the owned payload. Only the first call has an effect.
func (s *Sample) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.payload.Release()
	}
}

// Query is a received service request, owning a durable copy of the
// transport query so it can outlive the delivery callback and be answered
// asynchronously.
type Query struct {
	q        transport.Query
	released atomic.Bool
}

// NewQuery takes ownership of q, which must already be a durable copy.
func NewQuery(q transport.Query) *Query {
	return &Query{q: q}
}

// SequenceNumber returns the request's correlation key.
func (q *Query) SequenceNumber() int64 {
	return q.q.Attachment().SequenceNumber
}

// SourceGID returns the identity of the requesting client.
func (q *Query) SourceGID() transport.GID {
	return q.q.Attachment().SourceGID
}

// Bytes returns the serialized request.
func (q *Query) Bytes() []byte {
	return q.q.Bytes()
}

// Reply answers the request through the owned transport handle.
func (q *Query) Reply(payload []byte) error {
	return q.q.Reply(payload)
}

// Release frees the owned query copy. Only the first call has an effect.
func (q *Query) Release() {
	if q.released.CompareAndSwap(false, true) {
		q.q.Release()
	}
}

// Reply is a received response, owned after transfer from the transport
// callback.
type Reply struct {
	r        transport.Reply
	released atomic.Bool
}

// NewReply takes ownership of r.
func NewReply(r transport.Reply) *Reply {
	return &Reply{r: r}
}

// SequenceNumber returns the sequence number of the request this reply
// answers.
func (r *Reply) SequenceNumber() int64 {
	return r.r.Attachment().SequenceNumber
}

// Bytes returns the serialized response.
func (r *Reply) Bytes() []byte {
	return r.r.Bytes()
}

// Release frees the owned reply. Only the first call has an effect.
func (r *Reply) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.r.Release()
	}
}
