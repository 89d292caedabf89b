// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rmw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/takasehideki/rmw-zenoh/events"
	"github.com/takasehideki/rmw-zenoh/message"
	"github.com/takasehideki/rmw-zenoh/queue"
	"github.com/takasehideki/rmw-zenoh/server/otel"
	"github.com/takasehideki/rmw-zenoh/transport"
	"github.com/takasehideki/rmw-zenoh/wait"
)

// Service answers queries for one key expression. Inbound queries are
// queued in arrival order; once the application takes one, it moves to the
// correlation table keyed by sequence number so the answer can be sent
// arbitrarily later while further queries keep flowing. A query is
// referenced by exactly one of the two structures at any time.
type Service struct {
	keyExpr  string
	depth    int
	queue    *queue.Queue[*message.Query]
	notifier *events.Notifier
	relay    wait.Relay
	qable    transport.Queryable
	metrics  *otel.Metrics
	closed   atomic.Bool

	// Correlation table, locked independently of the queue.
	pendingMu sync.Mutex
	pending   map[int64]*message.Query
}

// NewService declares a queryable on t for keyExpr.
func NewService(t transport.Transport, keyExpr string, opts Options) (*Service, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if keyExpr == "" {
		return nil, ErrEmptyKeyExpr
	}

	s := &Service{
		keyExpr:  keyExpr,
		depth:    opts.queueDepth(),
		queue:    queue.New[*message.Query](opts.queueDepth()),
		notifier: events.NewNotifier(opts.eventStatusDepth(), events.KindNewData),
		metrics:  opts.Metrics,
		pending:  make(map[int64]*message.Query),
	}

	qable, err := t.DeclareQueryable(keyExpr, s.HandleQuery)
	if err != nil {
		return nil, err
	}
	s.qable = qable
	return s, nil
}

// KeyExpr returns the served key expression.
func (s *Service) KeyExpr() string {
	return s.keyExpr
}

// HandleQuery is the transport callback adapter for inbound queries. It
// runs on a transport goroutine; the transport-owned query handle is only
// valid for the callback's duration, so a durable copy is taken before
// queuing.
func (s *Service) HandleQuery(q transport.Query) {
	if s == nil {
		slog.Error("Query delivered with no service data", "key_expr", q.KeyExpr())
		return
	}

	msg := message.NewQuery(q.Clone())
	if evicted := s.queue.Push(msg); evicted {
		slog.Debug("Query queue depth reached, discarding oldest query",
			"key_expr", s.keyExpr, "depth", s.depth)
		s.metrics.RecordEviction(context.Background(), "service")
	}
	s.metrics.RecordDelivery(context.Background(), "service")

	if err := s.notifier.RecordEvent(events.KindNewData, 1); err != nil {
		slog.Error("Failed to record delivery event", "key_expr", s.keyExpr, "error", err)
	}
	s.relay.Notify()
}

// PopNextQuery removes and returns the oldest queued query, transferring
// ownership to the caller. False means the queue is empty.
func (s *Service) PopNextQuery() (*message.Query, bool) {
	return s.queue.PopFront()
}

// TakeRequest pops the next query and registers it in the correlation
// table under its sequence number. On a duplicate sequence number the
// popped query is released and an error returned: the transport stamps
// unique numbers per client, so a collision indicates a misbehaving peer.
func (s *Service) TakeRequest() (*message.Query, bool, error) {
	q, ok := s.queue.PopFront()
	if !ok {
		return nil, false, nil
	}
	if !s.RegisterPending(q.SequenceNumber(), q) {
		seq := q.SequenceNumber()
		q.Release()
		return nil, false, fmt.Errorf("take request on %s: sequence %d: %w",
			s.keyExpr, seq, ErrDuplicateSequence)
	}
	return q, true, nil
}

// RegisterPending inserts q under seq. It returns false without mutating
// the table when seq is already present; ownership of q then stays with
// the caller.
func (s *Service) RegisterPending(seq int64, q *message.Query) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, exists := s.pending[seq]; exists {
		return false
	}
	s.pending[seq] = q
	return true
}

// TakePending detaches and returns the pending query for seq. False means
// seq is absent — already answered or never registered; the two are
// indistinguishable and neither is an error.
func (s *Service) TakePending(seq int64) (*message.Query, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	q, ok := s.pending[seq]
	if !ok {
		return nil, false
	}
	delete(s.pending, seq)
	return q, true
}

// Respond sends payload as the answer to the pending request for seq and
// releases the query. ErrUnknownSequence is returned when no request is
// pending under seq.
func (s *Service) Respond(seq int64, payload []byte) error {
	q, ok := s.TakePending(seq)
	if !ok {
		s.metrics.RecordCorrelationMiss(context.Background())
		return fmt.Errorf("respond on %s: sequence %d: %w", s.keyExpr, seq, ErrUnknownSequence)
	}
	err := q.Reply(payload)
	q.Release()
	return err
}

// HasData reports whether a query is ready to take.
func (s *Service) HasData() bool {
	return !s.queue.IsEmpty()
}

// AttachCondition attaches the wait primitive signaled on every delivery.
func (s *Service) AttachCondition(c *wait.Condition) {
	s.relay.Attach(c)
}

// DetachCondition clears the attached wait primitive.
func (s *Service) DetachCondition() {
	s.relay.Detach()
}

// SetOnNewRequestCallback registers cb for new-request events, flushing
// any requests that arrived before registration. A nil cb clears it.
func (s *Service) SetOnNewRequestCallback(cb events.Callback, ctx any) error {
	if cb != nil {
		inner := cb
		cb = func(ctx any, count uint64) {
			s.metrics.RecordCallback(context.Background(), "service")
			inner(ctx, count)
		}
	}
	return s.notifier.SetCallback(events.KindNewData, cb, ctx)
}

// Close undeclares the queryable and releases every query still held by
// the queue or the correlation table.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.qable != nil {
		err = s.qable.Close()
	}
	s.queue.Drain()

	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*message.Query)
	s.pendingMu.Unlock()
	for _, q := range pending {
		q.Release()
	}
	return err
}
