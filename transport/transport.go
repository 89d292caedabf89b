// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the contract between the queuing subsystem and
// the underlying pub/sub transport. The subsystem never interprets payload
// contents; it moves opaque handles and releases them exactly once.
package transport

// GID is the 16-byte globally unique identity of a publisher or client.
type GID [16]byte

// Payload is a transport-owned byte buffer delivered with a sample. Bytes
// stays valid until Release, which returns the buffer to the transport.
type Payload interface {
	Bytes() []byte
	Release()
}

// Sample is one publication delivered to a subscriber callback. The handler
// takes ownership of Payload.
type Sample struct {
	KeyExpr   string
	Payload   Payload
	Timestamp uint64
	SourceGID GID
}

// Attachment carries the request correlation metadata stamped on queries
// and echoed back on replies.
type Attachment struct {
	SequenceNumber int64
	SourceGID      GID
}

// Query is an inbound service request. The handle passed to a query handler
// is only valid for the duration of the callback; Clone returns a durable
// copy the caller owns and must Release.
type Query interface {
	KeyExpr() string
	Bytes() []byte
	Attachment() Attachment
	// Reply sends the response back to the requesting client.
	Reply(payload []byte) error
	Clone() Query
	Release()
}

// Reply is an inbound response to a query. OK reports transport-level
// validity; ErrDetail carries the transport's error text when OK is false.
// The handler that accepts a reply owns it and must Release it.
type Reply interface {
	OK() bool
	ErrDetail() string
	Bytes() []byte
	Attachment() Attachment
	Release()
}

// Delivery handlers, invoked by the transport on its own goroutines.
type (
	SampleHandler func(Sample)
	QueryHandler  func(Query)
	ReplyHandler  func(Reply)
)

// Publisher publishes payloads to one key expression.
type Publisher interface {
	Put(payload []byte) error
	Close() error
}

// Subscriber is a declared subscription; Close undeclares it.
type Subscriber interface {
	Close() error
}

// Queryable is a declared service endpoint; Close undeclares it.
type Queryable interface {
	Close() error
}

// Transport is the pub/sub session the entities are built on.
type Transport interface {
	DeclarePublisher(keyExpr string, gid GID) (Publisher, error)
	DeclareSubscriber(keyExpr string, h SampleHandler) (Subscriber, error)
	DeclareQueryable(keyExpr string, h QueryHandler) (Queryable, error)
	// Query issues a request to the queryables matching keyExpr; the reply
	// handler runs on a transport goroutine once per reply.
	Query(keyExpr string, payload []byte, att Attachment, h ReplyHandler) error
	Close() error
}
