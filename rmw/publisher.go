// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rmw

import (
	"sync/atomic"

	"github.com/takasehideki/rmw-zenoh/events"
	"github.com/takasehideki/rmw-zenoh/message"
	"github.com/takasehideki/rmw-zenoh/transport"
	"github.com/takasehideki/rmw-zenoh/wait"
)

// Publisher publishes payloads to one key expression under a stable
// 16-byte identity, and tracks offered-QoS-incompatibility events.
type Publisher struct {
	keyExpr  string
	gid      transport.GID
	pub      transport.Publisher
	notifier *events.Notifier
	closed   atomic.Bool
}

// NewPublisher declares a publisher on t for keyExpr with a fresh identity.
func NewPublisher(t transport.Transport, keyExpr string, opts Options) (*Publisher, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if keyExpr == "" {
		return nil, ErrEmptyKeyExpr
	}

	p := &Publisher{
		keyExpr: keyExpr,
		gid:     message.NewGID(),
		notifier: events.NewNotifier(opts.eventStatusDepth(),
			events.KindOfferedQoSIncompatible),
	}

	pub, err := t.DeclarePublisher(keyExpr, p.gid)
	if err != nil {
		return nil, err
	}
	p.pub = pub
	return p, nil
}

// KeyExpr returns the published key expression.
func (p *Publisher) KeyExpr() string {
	return p.keyExpr
}

// GID returns the publisher's identity, delivered with every sample.
func (p *Publisher) GID() transport.GID {
	return p.gid
}

// Publish sends one serialized payload.
func (p *Publisher) Publish(payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.pub.Put(payload)
}

// SetEventCallback registers cb for a publisher event kind.
func (p *Publisher) SetEventCallback(kind events.Kind, cb events.Callback, ctx any) error {
	return p.notifier.SetCallback(kind, cb, ctx)
}

// AddEvent queues an event status and notifies its listeners.
func (p *Publisher) AddEvent(kind events.Kind, st *events.Status) error {
	return p.notifier.AddStatus(kind, st)
}

// TakeEvent pops the oldest queued status for kind.
func (p *Publisher) TakeEvent(kind events.Kind) (*events.Status, bool, error) {
	return p.notifier.TakeStatus(kind)
}

// EventQueueIsEmpty reports whether kind has no queued statuses.
func (p *Publisher) EventQueueIsEmpty(kind events.Kind) (bool, error) {
	return p.notifier.StatusEmpty(kind)
}

// AttachEventCondition attaches a wait primitive for one event kind.
func (p *Publisher) AttachEventCondition(kind events.Kind, c *wait.Condition) error {
	return p.notifier.AttachCondition(kind, c)
}

// DetachEventCondition detaches the wait primitive for one event kind.
func (p *Publisher) DetachEventCondition(kind events.Kind) error {
	return p.notifier.DetachCondition(kind)
}

// Close undeclares the publisher.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.pub != nil {
		return p.pub.Close()
	}
	return nil
}
