// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"sync"
)

// Signaler is the wait primitive a notifier pokes when a status is queued.
// Satisfied by wait.Condition.
type Signaler interface {
	Signal()
}

// listener is the tagged state of one event slot: either nobody is listening
// and unread events accumulate, or a callback is registered and every event
// is dispatched to it directly. The flush on registration is atomic with the
// state change, so no event is lost or double counted.
type listener struct {
	cb     Callback
	ctx    any
	unread uint64
}

type slot struct {
	listener listener
	statuses []*Status
	cond     Signaler
}

// Notifier tracks listeners and queued statuses for the event kinds an
// entity supports. All slots share one lock; the registered callback itself
// runs outside it, so a callback must not re-enter the same entity's API.
type Notifier struct {
	mu          sync.Mutex
	statusDepth int
	slots       map[Kind]*slot
}

// NewNotifier creates a notifier supporting exactly the given kinds.
// statusDepth bounds the per-kind status queue and is clamped to 1.
func NewNotifier(statusDepth int, kinds ...Kind) *Notifier {
	if statusDepth < 1 {
		statusDepth = 1
	}
	n := &Notifier{
		statusDepth: statusDepth,
		slots:       make(map[Kind]*slot, len(kinds)),
	}
	for _, k := range kinds {
		n.slots[k] = &slot{}
	}
	return n
}

func (n *Notifier) slotFor(k Kind) (*slot, error) {
	if err := checkKind(k); err != nil {
		return nil, err
	}
	s, ok := n.slots[k]
	if !ok {
		return nil, fmt.Errorf("event kind %s not tracked by this entity: %w", k, ErrUnsupportedKind)
	}
	return s, nil
}

// RecordEvent reports count occurrences of kind. With a listener registered
// the callback is invoked once with count; otherwise the unread counter
// accumulates until a listener appears.
func (n *Notifier) RecordEvent(kind Kind, count uint64) error {
	n.mu.Lock()
	s, err := n.slotFor(kind)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if s.listener.cb == nil {
		s.listener.unread += count
		n.mu.Unlock()
		return nil
	}
	cb, ctx := s.listener.cb, s.listener.ctx
	n.mu.Unlock()

	// Deliberately outside the lock: user code must not run under it.
	cb(ctx, count)
	return nil
}

// SetCallback registers cb for kind, flushing any accumulated unread count
// to it exactly once. A nil cb clears the listener; the counter then resumes
// accumulating.
func (n *Notifier) SetCallback(kind Kind, cb Callback, ctx any) error {
	n.mu.Lock()
	s, err := n.slotFor(kind)
	if err != nil {
		n.mu.Unlock()
		return err
	}

	if cb == nil {
		s.listener = listener{unread: s.listener.unread}
		n.mu.Unlock()
		return nil
	}

	pending := s.listener.unread
	s.listener = listener{cb: cb, ctx: ctx}
	n.mu.Unlock()

	if pending > 0 {
		cb(ctx, pending)
	}
	return nil
}

// AddStatus queues a status record for kind, evicting the oldest when the
// queue is at depth, then reports the event to the listener and signals the
// attached condition if any.
func (n *Notifier) AddStatus(kind Kind, st *Status) error {
	n.mu.Lock()
	s, err := n.slotFor(kind)
	if err != nil {
		n.mu.Unlock()
		return err
	}

	if len(s.statuses) >= n.statusDepth {
		s.statuses = s.statuses[1:]
	}
	s.statuses = append(s.statuses, st)

	var cb Callback
	var ctx any
	if s.listener.cb == nil {
		s.listener.unread++
	} else {
		cb, ctx = s.listener.cb, s.listener.ctx
	}
	cond := s.cond
	n.mu.Unlock()

	if cb != nil {
		cb(ctx, 1)
	}
	if cond != nil {
		cond.Signal()
	}
	return nil
}

// TakeStatus pops the oldest queued status for kind. The second return value
// is false when no status is queued; that is not an error.
func (n *Notifier) TakeStatus(kind Kind) (*Status, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, err := n.slotFor(kind)
	if err != nil {
		return nil, false, err
	}
	if len(s.statuses) == 0 {
		return nil, false, nil
	}
	st := s.statuses[0]
	s.statuses[0] = nil
	s.statuses = s.statuses[1:]
	return st, true, nil
}

// StatusEmpty reports whether kind has no queued statuses.
func (n *Notifier) StatusEmpty(kind Kind) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, err := n.slotFor(kind)
	if err != nil {
		return false, err
	}
	return len(s.statuses) == 0, nil
}

// AttachCondition attaches the wait primitive signaled when a status for
// kind is queued. It replaces any previously attached primitive.
func (n *Notifier) AttachCondition(kind Kind, cond Signaler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, err := n.slotFor(kind)
	if err != nil {
		return err
	}
	s.cond = cond
	return nil
}

// DetachCondition clears the wait primitive for kind. Idempotent.
func (n *Notifier) DetachCondition(kind Kind) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, err := n.slotFor(kind)
	if err != nil {
		return err
	}
	s.cond = nil
	return nil
}
