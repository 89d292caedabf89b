// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqttbind binds the transport contract onto an MQTT broker. Samples,
// queries and replies travel as binary envelopes carrying the correlation
// metadata MQTT itself has no field for; query/reply traffic rides dedicated
// topic prefixes so it never collides with plain publications.
package mqttbind

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/takasehideki/rmw-zenoh/config"
	"github.com/takasehideki/rmw-zenoh/internal/bufpool"
	"github.com/takasehideki/rmw-zenoh/transport"
)

// Binding errors.
var (
	ErrClosed        = errors.New("transport is closed")
	ErrConnect       = errors.New("mqtt connect failed")
	ErrTokenTimeout  = errors.New("mqtt operation timed out")
	ErrShortEnvelope = errors.New("envelope shorter than header")
)

// Topic prefixes separating request/reply traffic from publications.
const (
	queryPrefix = "rq/"
	replyPrefix = "rr/"
)

// Envelope layout constants. All integers are big-endian.
const (
	gidLen = 16

	// sample: gid | timestamp | payload
	sampleHeaderLen = gidLen + 8

	// query: seq | gid | reply-topic length | reply topic | payload
	queryHeaderLen = 8 + gidLen + 2

	// reply: seq | gid | status | body
	replyHeaderLen = 8 + gidLen + 1

	replyStatusOK  = 0x00
	replyStatusErr = 0x01
)

// pendingKey correlates a reply with the request that caused it. Sequence
// numbers are only unique per requester, so the requester identity is part
// of the key.
type pendingKey struct {
	seq int64
	gid transport.GID
}

// Transport is an MQTT-backed pub/sub session.
type Transport struct {
	cfg        config.TransportConfig
	client     mqtt.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	replyTopic string

	mu       sync.Mutex
	pending  map[pendingKey]transport.ReplyHandler
	replySub bool
	closed   bool
}

// Connect dials the broker in cfg and returns a ready session. Outbound
// publishes are paced by cfg.PublishRate and guarded by a circuit breaker
// so a wedged broker fails fast instead of piling up blocked goroutines.
func Connect(cfg config.TransportConfig) (*Transport, error) {
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "rmw-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + cfg.MQTTAddr).
		SetClientID(clientID).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	if err := waitToken(client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConnect, cfg.MQTTAddr, err)
	}

	var limiter *rate.Limiter
	if cfg.PublishRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), cfg.PublishBurst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    clientID,
		Timeout: cfg.ConnectTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("MQTT publish circuit breaker state changed",
				slog.String("client_id", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Transport{
		cfg:        cfg,
		client:     client,
		limiter:    limiter,
		breaker:    breaker,
		replyTopic: replyPrefix + clientID,
		pending:    make(map[pendingKey]transport.ReplyHandler),
	}, nil
}

func waitToken(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return ErrTokenTimeout
	}
	return tok.Error()
}

// publish is the single outbound path: rate limit first, then the breaker
// around the broker round trip.
func (t *Transport) publish(topic string, data []byte) error {
	if t.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
		defer cancel()
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish pacing: %w", err)
		}
	}
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, waitToken(t.client.Publish(topic, t.cfg.MQTTQoS, false, data), t.cfg.ConnectTimeout)
	})
	return err
}

type publisher struct {
	t       *Transport
	keyExpr string
	gid     transport.GID
	closed  atomic.Bool
}

func (p *publisher) Put(payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	env := encodeSample(p.gid, uint64(time.Now().UnixNano()), payload)
	return p.t.publish(p.keyExpr, env)
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

// DeclarePublisher registers an identity for keyExpr. MQTT needs no broker
// round trip to declare a publisher, so this never blocks.
func (t *Transport) DeclarePublisher(keyExpr string, gid transport.GID) (transport.Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return &publisher{t: t, keyExpr: keyExpr, gid: gid}, nil
}

type subscriber struct {
	t     *Transport
	topic string
}

func (s *subscriber) Close() error {
	return waitToken(s.t.client.Unsubscribe(s.topic), s.t.cfg.ConnectTimeout)
}

// DeclareSubscriber subscribes to keyExpr and feeds decoded samples to h on
// the paho delivery goroutine.
func (t *Transport) DeclareSubscriber(keyExpr string, h transport.SampleHandler) (transport.Subscriber, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	topic := mqttFilter(keyExpr)
	cb := func(_ mqtt.Client, m mqtt.Message) {
		s, err := decodeSample(m.Topic(), m.Payload())
		if err != nil {
			slog.Warn("Discarding malformed sample envelope",
				"topic", m.Topic(), "error", err)
			return
		}
		h(s)
	}
	if err := waitToken(t.client.Subscribe(topic, t.cfg.MQTTQoS, cb), t.cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &subscriber{t: t, topic: topic}, nil
}

type queryable struct {
	t     *Transport
	topic string
}

func (q *queryable) Close() error {
	return waitToken(q.t.client.Unsubscribe(q.topic), q.t.cfg.ConnectTimeout)
}

// DeclareQueryable subscribes to the query topic for keyExpr. The query
// handle passed to h is only valid for the callback; handlers keep a
// durable copy via Clone.
func (t *Transport) DeclareQueryable(keyExpr string, h transport.QueryHandler) (transport.Queryable, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	topic := queryPrefix + mqttFilter(keyExpr)
	cb := func(_ mqtt.Client, m mqtt.Message) {
		q, err := decodeQuery(t, m.Topic(), m.Payload())
		if err != nil {
			slog.Warn("Discarding malformed query envelope",
				"topic", m.Topic(), "error", err)
			return
		}
		h(q)
		q.Release()
	}
	if err := waitToken(t.client.Subscribe(topic, t.cfg.MQTTQoS, cb), t.cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &queryable{t: t, topic: topic}, nil
}

// Query publishes the request to the query topic for keyExpr and registers h
// for the correlated reply. The reply subscription is established once, on
// the first query of the session.
func (t *Transport) Query(keyExpr string, payload []byte, att transport.Attachment, h transport.ReplyHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.replySub {
		if err := waitToken(t.client.Subscribe(t.replyTopic, t.cfg.MQTTQoS, t.onReply), t.cfg.ConnectTimeout); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", t.replyTopic, err)
		}
		t.replySub = true
	}
	t.pending[pendingKey{seq: att.SequenceNumber, gid: att.SourceGID}] = h
	t.mu.Unlock()

	env := encodeQuery(att, t.replyTopic, payload)
	if err := t.publish(queryPrefix+keyExpr, env); err != nil {
		t.mu.Lock()
		delete(t.pending, pendingKey{seq: att.SequenceNumber, gid: att.SourceGID})
		t.mu.Unlock()
		return err
	}
	return nil
}

// onReply runs on the paho delivery goroutine for every inbound reply.
func (t *Transport) onReply(_ mqtt.Client, m mqtt.Message) {
	r, err := decodeReply(m.Payload())
	if err != nil {
		slog.Warn("Discarding malformed reply envelope",
			"topic", m.Topic(), "error", err)
		return
	}

	key := pendingKey{seq: r.att.SequenceNumber, gid: r.att.SourceGID}
	t.mu.Lock()
	h, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if !ok {
		slog.Debug("Dropping reply with no pending request",
			"sequence_number", r.att.SequenceNumber)
		return
	}
	h(r)
}

// Close disconnects from the broker. Pending reply handlers are dropped;
// their requesters see no reply rather than an invalid one.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.pending = make(map[pendingKey]transport.ReplyHandler)
	t.mu.Unlock()

	t.client.Disconnect(250)
	return nil
}

// mqttFilter maps key-expression wildcards onto MQTT filter wildcards.
func mqttFilter(keyExpr string) string {
	chunks := strings.Split(keyExpr, "/")
	for i, c := range chunks {
		switch c {
		case "*":
			chunks[i] = "+"
		case "**":
			chunks[i] = "#"
		}
	}
	return strings.Join(chunks, "/")
}

func encodeSample(gid transport.GID, ts uint64, payload []byte) []byte {
	env := make([]byte, sampleHeaderLen+len(payload))
	copy(env, gid[:])
	binary.BigEndian.PutUint64(env[gidLen:], ts)
	copy(env[sampleHeaderLen:], payload)
	return env
}

func decodeSample(topic string, env []byte) (transport.Sample, error) {
	if len(env) < sampleHeaderLen {
		return transport.Sample{}, fmt.Errorf("sample envelope %d bytes: %w", len(env), ErrShortEnvelope)
	}
	var gid transport.GID
	copy(gid[:], env[:gidLen])
	return transport.Sample{
		KeyExpr:   topic,
		Payload:   newPayload(env[sampleHeaderLen:]),
		Timestamp: binary.BigEndian.Uint64(env[gidLen:sampleHeaderLen]),
		SourceGID: gid,
	}, nil
}

func encodeQuery(att transport.Attachment, replyTopic string, payload []byte) []byte {
	env := make([]byte, queryHeaderLen+len(replyTopic)+len(payload))
	binary.BigEndian.PutUint64(env, uint64(att.SequenceNumber))
	copy(env[8:], att.SourceGID[:])
	binary.BigEndian.PutUint16(env[8+gidLen:], uint16(len(replyTopic)))
	copy(env[queryHeaderLen:], replyTopic)
	copy(env[queryHeaderLen+len(replyTopic):], payload)
	return env
}

func decodeQuery(t *Transport, topic string, env []byte) (*query, error) {
	if len(env) < queryHeaderLen {
		return nil, fmt.Errorf("query envelope %d bytes: %w", len(env), ErrShortEnvelope)
	}
	topicLen := int(binary.BigEndian.Uint16(env[8+gidLen:]))
	if len(env) < queryHeaderLen+topicLen {
		return nil, fmt.Errorf("query envelope truncated reply topic: %w", ErrShortEnvelope)
	}
	var gid transport.GID
	copy(gid[:], env[8:8+gidLen])
	return &query{
		t:          t,
		keyExpr:    strings.TrimPrefix(topic, queryPrefix),
		data:       append([]byte(nil), env[queryHeaderLen+topicLen:]...),
		att:        transport.Attachment{SequenceNumber: int64(binary.BigEndian.Uint64(env)), SourceGID: gid},
		replyTopic: string(env[queryHeaderLen : queryHeaderLen+topicLen]),
	}, nil
}

func encodeReply(att transport.Attachment, status byte, body []byte) []byte {
	env := make([]byte, replyHeaderLen+len(body))
	binary.BigEndian.PutUint64(env, uint64(att.SequenceNumber))
	copy(env[8:], att.SourceGID[:])
	env[8+gidLen] = status
	copy(env[replyHeaderLen:], body)
	return env
}

func decodeReply(env []byte) (*reply, error) {
	if len(env) < replyHeaderLen {
		return nil, fmt.Errorf("reply envelope %d bytes: %w", len(env), ErrShortEnvelope)
	}
	var gid transport.GID
	copy(gid[:], env[8:8+gidLen])
	r := &reply{
		att: transport.Attachment{SequenceNumber: int64(binary.BigEndian.Uint64(env)), SourceGID: gid},
	}
	switch env[8+gidLen] {
	case replyStatusOK:
		r.ok = true
		r.data = append([]byte(nil), env[replyHeaderLen:]...)
	case replyStatusErr:
		r.detail = string(env[replyHeaderLen:])
	default:
		return nil, fmt.Errorf("reply status byte 0x%02x unknown", env[8+gidLen])
	}
	return r, nil
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

// query implements transport.Query over an MQTT envelope.
type query struct {
	t          *Transport
	keyExpr    string
	data       []byte
	att        transport.Attachment
	replyTopic string
	released   atomic.Bool
}

func (q *query) KeyExpr() string                  { return q.keyExpr }
func (q *query) Bytes() []byte                    { return q.data }
func (q *query) Attachment() transport.Attachment { return q.att }

// Reply publishes the response envelope to the requester's reply topic.
func (q *query) Reply(payload []byte) error {
	return q.t.publish(q.replyTopic, encodeReply(q.att, replyStatusOK, payload))
}

func (q *query) Clone() transport.Query {
	return &query{
		t:          q.t,
		keyExpr:    q.keyExpr,
		data:       q.data,
		att:        q.att,
		replyTopic: q.replyTopic,
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
