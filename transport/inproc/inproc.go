// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package inproc provides an in-process transport: key-expression routed
// delivery between publishers, subscribers, queryables and clients living
// in one process. Deliveries run synchronously on the publishing
// goroutine, which plays the role of the transport delivery thread.
package inproc

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takasehideki/rmw-zenoh/internal/bufpool"
	"github.com/takasehideki/rmw-zenoh/transport"
)

// Transport errors.
var (
	ErrClosed      = errors.New("transport is closed")
	ErrNoQueryable = errors.New("no queryable matches key expression")
)

// Transport is an in-process pub/sub session.
type Transport struct {
	mu         sync.RWMutex
	subs       map[int64]*subscriber
	queryables map[int64]*queryable
	nextID     int64
	closed     bool
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{
		subs:       make(map[int64]*subscriber),
		queryables: make(map[int64]*queryable),
	}
}

type subscriber struct {
	t       *Transport
	id      int64
	keyExpr string
	handler transport.SampleHandler
}

func (s *subscriber) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.subs, s.id)
	return nil
}

type queryable struct {
	t       *Transport
	id      int64
	keyExpr string
	handler transport.QueryHandler
}

func (q *queryable) Close() error {
	q.t.mu.Lock()
	defer q.t.mu.Unlock()
	delete(q.t.queryables, q.id)
	return nil
}

type publisher struct {
	t       *Transport
	keyExpr string
	gid     transport.GID
	closed  atomic.Bool
}

// Put copies payload once per matching subscriber and invokes the
// subscriber handlers on the calling goroutine.
func (p *publisher) Put(payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.t.mu.RLock()
	if p.t.closed {
		p.t.mu.RUnlock()
		return ErrClosed
	}
	var targets []*subscriber
	for _, s := range p.t.subs {
		if keyExprMatch(s.keyExpr, p.keyExpr) {
			targets = append(targets, s)
		}
	}
	p.t.mu.RUnlock()

	now := uint64(time.Now().UnixNano())
	for _, s := range targets {
		s.handler(transport.Sample{
			KeyExpr:   p.keyExpr,
			Payload:   newPayload(payload),
			Timestamp: now,
			SourceGID: p.gid,
		})
	}
	return nil
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

// DeclarePublisher registers a publisher for keyExpr.
func (t *Transport) DeclarePublisher(keyExpr string, gid transport.GID) (transport.Publisher, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	return &publisher{t: t, keyExpr: keyExpr, gid: gid}, nil
}

// DeclareSubscriber registers h for samples matching keyExpr.
func (t *Transport) DeclareSubscriber(keyExpr string, h transport.SampleHandler) (transport.Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.nextID++
	s := &subscriber{t: t, id: t.nextID, keyExpr: keyExpr, handler: h}
	t.subs[s.id] = s
	return s, nil
}

// DeclareQueryable registers h for queries matching keyExpr.
func (t *Transport) DeclareQueryable(keyExpr string, h transport.QueryHandler) (transport.Queryable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.nextID++
	q := &queryable{t: t, id: t.nextID, keyExpr: keyExpr, handler: h}
	t.queryables[q.id] = q
	return q, nil
}

// Query routes the request to every matching queryable, synchronously. The
// query handle handed to each queryable is only valid for the callback;
// handlers keep a durable copy via Clone.
func (t *Transport) Query(keyExpr string, payload []byte, att transport.Attachment, h transport.ReplyHandler) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	var targets []*queryable
	for _, q := range t.queryables {
		if keyExprMatch(q.keyExpr, keyExpr) {
			targets = append(targets, q)
		}
	}
	t.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("query %s: %w", keyExpr, ErrNoQueryable)
	}

	for _, target := range targets {
		q := &query{
			keyExpr: keyExpr,
			data:    append([]byte(nil), payload...),
			att:     att,
			replyTo: h,
		}
		target.handler(q)
		q.Release()
	}
	return nil
}

// Close drops all declared entities. Inflight deliveries finish first.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[int64]*subscriber)
	t.queryables = make(map[int64]*queryable)
	return nil
}

// payload is a pooled delivery buffer implementing transport.Payload.
type payload struct {
	buf      *bytes.Buffer
	released atomic.Bool
}

func newPayload(data []byte) *payload {
	b := bufpool.Get()
	b.Write(data)
	return &payload{buf: b}
}

func (p *payload) Bytes() []byte {
	return p.buf.Bytes()
}

func (p *payload) Release() {
	if p.released.CompareAndSwap(false, true) {
		bufpool.Put(p.buf)
		p.buf = nil
	}
}

// query implements transport.Query. Clones share the copied request bytes;
// each clone is released independently.
type query struct {
	keyExpr  string
	data     []byte
	att      transport.Attachment
	replyTo  transport.ReplyHandler
	released atomic.Bool
}

func (q *query) KeyExpr() string                  { return q.keyExpr }
func (q *query) Bytes() []byte                    { return q.data }
func (q *query) Attachment() transport.Attachment { return q.att }

// Reply delivers the response to the requester's reply handler on the
// calling goroutine.
func (q *query) Reply(payload []byte) error {
	if q.replyTo == nil {
		return nil
	}
	q.replyTo(&reply{
		ok:   true,
		data: append([]byte(nil), payload...),
		att:  q.att,
	})
	return nil
}

func (q *query) Clone() transport.Query {
	return &query{
		keyExpr: q.keyExpr,
		data:    q.data,
		att:     q.att,
		replyTo: q.replyTo,
	}
}

func (q *query) Release() {
	q.released.Store(true)
}

// reply implements transport.Reply.
type reply struct {
	ok       bool
	detail   string
	data     []byte
	att      transport.Attachment
	released atomic.Bool
}

func (r *reply) OK() bool                         { return r.ok }
func (r *reply) ErrDetail() string                { return r.detail }
func (r *reply) Bytes() []byte                    { return r.data }
func (r *reply) Attachment() transport.Attachment { return r.att }
func (r *reply) Release()                         { r.released.Store(true) }
