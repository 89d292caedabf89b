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

// Client issues queries to a service key expression and queues the replies.
// Every outgoing request is stamped with the client identity and the next
// value of a strictly increasing sequence counter, so replies arriving in
// any order can be matched to the request that caused them.
type Client struct {
	keyExpr   string
	gid       transport.GID
	depth     int
	transport transport.Transport
	queue     *queue.Queue[*message.Reply]
	notifier  *events.Notifier
	relay     wait.Relay
	metrics   *otel.Metrics
	seq       atomic.Uint64
	closed    atomic.Bool
}

// NewClient creates a client for keyExpr with a fresh identity. The
// sequence counter starts at zero.
func NewClient(t transport.Transport, keyExpr string, opts Options) (*Client, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if keyExpr == "" {
		return nil, ErrEmptyKeyExpr
	}

	return &Client{
		keyExpr:   keyExpr,
		gid:       message.NewGID(),
		depth:     opts.queueDepth(),
		transport: t,
		queue:     queue.New[*message.Reply](opts.queueDepth()),
		notifier:  events.NewNotifier(opts.eventStatusDepth(), events.KindNewData),
		metrics:   opts.Metrics,
	}, nil
}

// KeyExpr returns the queried key expression.
func (c *Client) KeyExpr() string {
	return c.keyExpr
}

// GID returns the client's identity, stamped on every request.
func (c *Client) GID() transport.GID {
	return c.gid
}

// NextSequenceNumber atomically increments and returns the per-client
// counter. The first call returns 0; no two calls ever return the same
// value for one client.
func (c *Client) NextSequenceNumber() uint64 {
	return c.seq.Add(1) - 1
}

// SendRequest stamps payload with the next sequence number and issues the
// query. The returned sequence number identifies the eventual reply.
func (c *Client) SendRequest(payload []byte) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	seq := int64(c.NextSequenceNumber())
	att := transport.Attachment{SequenceNumber: seq, SourceGID: c.gid}
	if err := c.transport.Query(c.keyExpr, payload, att, c.HandleReply); err != nil {
		return 0, err
	}
	c.metrics.RecordRequest(context.Background())
	return seq, nil
}

// HandleReply is the transport callback adapter for inbound replies. It
// runs on a transport goroutine and takes ownership of the reply handle.
// Invalid or error-carrying replies are logged and discarded, never queued:
// the transport goroutine has no application caller to report them to.
func (c *Client) HandleReply(r transport.Reply) {
	if c == nil {
		slog.Error("Reply delivered with no client data")
		r.Release()
		return
	}
	if c.closed.Load() {
		r.Release()
		return
	}
	if !r.OK() {
		slog.Warn("Discarding invalid reply", "key_expr", c.keyExpr, "detail", r.ErrDetail())
		c.metrics.RecordDroppedReply(context.Background())
		r.Release()
		return
	}

	msg := message.NewReply(r)
	if evicted := c.queue.Push(msg); evicted {
		slog.Debug("Reply queue depth reached, discarding oldest reply",
			"key_expr", c.keyExpr, "depth", c.depth)
		c.metrics.RecordEviction(context.Background(), "client")
	}
	c.metrics.RecordDelivery(context.Background(), "client")

	if err := c.notifier.RecordEvent(events.KindNewData, 1); err != nil {
		slog.Error("Failed to record delivery event", "key_expr", c.keyExpr, "error", err)
	}
	c.relay.Notify()
}

// PopNextReply removes and returns the oldest queued reply, transferring
// ownership to the caller. False means the queue is empty.
func (c *Client) PopNextReply() (*message.Reply, bool) {
	return c.queue.PopFront()
}

// HasData reports whether a reply is ready to take.
func (c *Client) HasData() bool {
	return !c.queue.IsEmpty()
}

// AttachCondition attaches the wait primitive signaled on every delivery.
func (c *Client) AttachCondition(cond *wait.Condition) {
	c.relay.Attach(cond)
}

// DetachCondition clears the attached wait primitive.
func (c *Client) DetachCondition() {
	c.relay.Detach()
}

// SetOnNewReplyCallback registers cb for new-reply events, flushing any
// replies that arrived before registration. A nil cb clears it.
func (c *Client) SetOnNewReplyCallback(cb events.Callback, ctx any) error {
	if cb != nil {
		inner := cb
		cb = func(ctx any, count uint64) {
			c.metrics.RecordCallback(context.Background(), "client")
			inner(ctx, count)
		}
	}
	return c.notifier.SetCallback(events.KindNewData, cb, ctx)
}

// Close releases all queued replies. Replies still in flight are dropped
// by the adapter once they arrive.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.queue.Drain()
	return nil
}
