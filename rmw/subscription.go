// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rmw

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/takasehideki/rmw-zenoh/events"
	"github.com/takasehideki/rmw-zenoh/message"
	"github.com/takasehideki/rmw-zenoh/queue"
	"github.com/takasehideki/rmw-zenoh/server/otel"
	"github.com/takasehideki/rmw-zenoh/transport"
	"github.com/takasehideki/rmw-zenoh/wait"
)

// Subscription receives publications for one key expression, queues them up
// to the configured depth and hands them to the consumer in delivery order.
type Subscription struct {
	keyExpr  string
	depth    int
	queue    *queue.Queue[*message.Sample]
	notifier *events.Notifier
	relay    wait.Relay
	sub      transport.Subscriber
	metrics  *otel.Metrics
	closed   atomic.Bool
}

// NewSubscription declares a subscriber on t for keyExpr. Deliveries start
// arriving on transport goroutines as soon as this returns.
func NewSubscription(t transport.Transport, keyExpr string, opts Options) (*Subscription, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if keyExpr == "" {
		return nil, ErrEmptyKeyExpr
	}

	s := &Subscription{
		keyExpr: keyExpr,
		depth:   opts.queueDepth(),
		queue:   queue.New[*message.Sample](opts.queueDepth()),
		notifier: events.NewNotifier(opts.eventStatusDepth(),
			events.KindNewData, events.KindRequestedQoSIncompatible),
		metrics: opts.Metrics,
	}

	sub, err := t.DeclareSubscriber(keyExpr, s.HandleSample)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

// KeyExpr returns the subscribed key expression.
func (s *Subscription) KeyExpr() string {
	return s.keyExpr
}

// HandleSample is the transport callback adapter for message deliveries.
// It runs on a transport goroutine, takes ownership of the sample payload,
// queues it and then notifies listeners and waiters.
func (s *Subscription) HandleSample(smp transport.Sample) {
	if s == nil {
		slog.Error("Sample delivered with no subscription data", "key_expr", smp.KeyExpr)
		if smp.Payload != nil {
			smp.Payload.Release()
		}
		return
	}

	msg := message.NewSample(smp.Payload, smp.Timestamp, smp.SourceGID)
	if evicted := s.queue.Push(msg); evicted {
		slog.Debug("Message queue depth reached, discarding oldest message",
			"key_expr", s.keyExpr, "depth", s.depth)
		s.metrics.RecordEviction(context.Background(), "subscription")
	}
	s.metrics.RecordDelivery(context.Background(), "subscription")

	// Queue first, then notify: a woken consumer must find the item.
	if err := s.notifier.RecordEvent(events.KindNewData, 1); err != nil {
		slog.Error("Failed to record delivery event", "key_expr", s.keyExpr, "error", err)
	}
	s.relay.Notify()
}

// PopNextMessage removes and returns the oldest queued sample, transferring
// ownership to the caller. The second return value is false when the queue
// is empty; that is the signal that the check was made but nothing has
// arrived, not an error.
func (s *Subscription) PopNextMessage() (*message.Sample, bool) {
	return s.queue.PopFront()
}

// HasData reports whether a sample is ready to take.
func (s *Subscription) HasData() bool {
	return !s.queue.IsEmpty()
}

// AttachCondition attaches the wait primitive signaled on every delivery.
func (s *Subscription) AttachCondition(c *wait.Condition) {
	s.relay.Attach(c)
}

// DetachCondition clears the attached wait primitive.
func (s *Subscription) DetachCondition() {
	s.relay.Detach()
}

// SetOnNewMessageCallback registers cb for new-data events, flushing any
// deliveries that arrived before registration. A nil cb clears it.
func (s *Subscription) SetOnNewMessageCallback(cb events.Callback, ctx any) error {
	if cb != nil {
		inner := cb
		cb = func(ctx any, count uint64) {
			s.metrics.RecordCallback(context.Background(), "subscription")
			inner(ctx, count)
		}
	}
	return s.notifier.SetCallback(events.KindNewData, cb, ctx)
}

// SetEventCallback registers cb for a non-data event kind.
func (s *Subscription) SetEventCallback(kind events.Kind, cb events.Callback, ctx any) error {
	return s.notifier.SetCallback(kind, cb, ctx)
}

// AddEvent queues an event status and notifies its listeners.
func (s *Subscription) AddEvent(kind events.Kind, st *events.Status) error {
	return s.notifier.AddStatus(kind, st)
}

// TakeEvent pops the oldest queued status for kind.
func (s *Subscription) TakeEvent(kind events.Kind) (*events.Status, bool, error) {
	return s.notifier.TakeStatus(kind)
}

// EventQueueIsEmpty reports whether kind has no queued statuses.
func (s *Subscription) EventQueueIsEmpty(kind events.Kind) (bool, error) {
	return s.notifier.StatusEmpty(kind)
}

// AttachEventCondition attaches a wait primitive for one event kind.
func (s *Subscription) AttachEventCondition(kind events.Kind, c *wait.Condition) error {
	return s.notifier.AttachCondition(kind, c)
}

// DetachEventCondition detaches the wait primitive for one event kind.
func (s *Subscription) DetachEventCondition(kind events.Kind) error {
	return s.notifier.DetachCondition(kind)
}

// Close undeclares the subscriber and releases all queued samples.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.sub != nil {
		err = s.sub.Close()
	}
	s.queue.Drain()
	return err
}
