// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rmw

import (
	"sync"

	"github.com/takasehideki/rmw-zenoh/transport"
)

// fakeTransport records declared handlers so tests can drive the transport
// callback adapters directly.
type fakeTransport struct {
	mu       sync.Mutex
	sampleH  transport.SampleHandler
	queryH   transport.QueryHandler
	puts     [][]byte
	sent     []sentQuery
	queryErr error
}

type sentQuery struct {
	keyExpr string
	payload []byte
	att     transport.Attachment
	replyH  transport.ReplyHandler
}

type fakeCloser struct{ closed int }

func (c *fakeCloser) Close() error {
	c.closed++
	return nil
}

type fakePub struct {
	t   *fakeTransport
	gid transport.GID
	fakeCloser
}

func (p *fakePub) Put(payload []byte) error {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.t.puts = append(p.t.puts, payload)
	return nil
}

func (t *fakeTransport) DeclarePublisher(keyExpr string, gid transport.GID) (transport.Publisher, error) {
	return &fakePub{t: t, gid: gid}, nil
}

func (t *fakeTransport) DeclareSubscriber(keyExpr string, h transport.SampleHandler) (transport.Subscriber, error) {
	t.sampleH = h
	return &fakeCloser{}, nil
}

func (t *fakeTransport) DeclareQueryable(keyExpr string, h transport.QueryHandler) (transport.Queryable, error) {
	t.queryH = h
	return &fakeCloser{}, nil
}

func (t *fakeTransport) Query(keyExpr string, payload []byte, att transport.Attachment, h transport.ReplyHandler) error {
	if t.queryErr != nil {
		return t.queryErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentQuery{keyExpr: keyExpr, payload: payload, att: att, replyH: h})
	return nil
}

func (t *fakeTransport) Close() error { return nil }

// fakePayload counts releases so tests can assert exactly-once semantics.
type fakePayload struct {
	data     []byte
	released int
}

func (p *fakePayload) Bytes() []byte { return p.data }
func (p *fakePayload) Release()      { p.released++ }

// fakeQuery is a transport query handle with reply capture.
type fakeQuery struct {
	keyExpr  string
	data     []byte
	att      transport.Attachment
	replies  [][]byte
	released int
	clones   []*fakeQuery
}

func (q *fakeQuery) KeyExpr() string                  { return q.keyExpr }
func (q *fakeQuery) Bytes() []byte                    { return q.data }
func (q *fakeQuery) Attachment() transport.Attachment { return q.att }

func (q *fakeQuery) Reply(payload []byte) error {
	q.replies = append(q.replies, payload)
	return nil
}

func (q *fakeQuery) Clone() transport.Query {
	c := &fakeQuery{keyExpr: q.keyExpr, data: q.data, att: q.att}
	q.clones = append(q.clones, c)
	return c
}

func (q *fakeQuery) Release() { q.released++ }

// fakeReply is a transport reply handle with a validity flag.
type fakeReply struct {
	ok       bool
	detail   string
	data     []byte
	att      transport.Attachment
	released int
}

func (r *fakeReply) OK() bool                         { return r.ok }
func (r *fakeReply) ErrDetail() string                { return r.detail }
func (r *fakeReply) Bytes() []byte                    { return r.data }
func (r *fakeReply) Attachment() transport.Attachment { return r.att }
func (r *fakeReply) Release()                         { r.released++ }
