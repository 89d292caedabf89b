// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rmw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/takasehideki/rmw-zenoh/transport"
)

func newTestService(t *testing.T, tr *fakeTransport, depth int) *Service {
	t.Helper()
	svc, err := NewService(tr, "svc/echo", Options{QueueDepth: depth})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func deliverQuery(tr *fakeTransport, seq int64, payload string) *fakeQuery {
	q := &fakeQuery{
		keyExpr: "svc/echo",
		data:    []byte(payload),
		att:     transport.Attachment{SequenceNumber: seq, SourceGID: transport.GID{3}},
	}
	tr.queryH(q)
	return q
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, "svc", Options{})
	require.ErrorIs(t, err, ErrNilTransport)

	_, err = NewService(&fakeTransport{}, "", Options{})
	require.ErrorIs(t, err, ErrEmptyKeyExpr)
}

func TestHandleQueryTakesDurableCopy(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 4)

	q := deliverQuery(tr, 1, "req")
	// The adapter cloned the callback-scoped handle rather than keeping it.
	require.Len(t, q.clones, 1)

	msg, ok := svc.PopNextQuery()
	require.True(t, ok)
	require.Equal(t, "req", string(msg.Bytes()))
	require.Equal(t, int64(1), msg.SequenceNumber())
	msg.Release()
	require.Equal(t, 1, q.clones[0].released)
	require.Zero(t, q.released)
}

func TestServiceQueueEvictsOldest(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 2)

	q1 := deliverQuery(tr, 1, "a")
	deliverQuery(tr, 2, "b")
	deliverQuery(tr, 3, "c")

	require.Equal(t, 1, q1.clones[0].released)

	msg, ok := svc.PopNextQuery()
	require.True(t, ok)
	require.Equal(t, int64(2), msg.SequenceNumber())
	msg.Release()
}

func TestRegisterPendingConflict(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 4)

	deliverQuery(tr, 7, "first")
	q1, ok := svc.PopNextQuery()
	require.True(t, ok)

	require.True(t, svc.RegisterPending(7, q1))

	deliverQuery(tr, 7, "duplicate")
	q2, ok := svc.PopNextQuery()
	require.True(t, ok)

	// Insert fails without mutating the table; q2 stays with the caller.
	require.False(t, svc.RegisterPending(7, q2))

	got, ok := svc.TakePending(7)
	require.True(t, ok)
	require.Equal(t, "first", string(got.Bytes()))
	got.Release()
	q2.Release()
}

func TestTakePendingAbsent(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 4)

	deliverQuery(tr, 7, "req")
	q, ok := svc.PopNextQuery()
	require.True(t, ok)
	require.True(t, svc.RegisterPending(7, q))

	got, ok := svc.TakePending(7)
	require.True(t, ok)
	require.Same(t, q, got)

	// A stray second take for the same sequence gets the empty result.
	got, ok = svc.TakePending(7)
	require.False(t, ok)
	require.Nil(t, got)
	q.Release()
}

func TestTakeRequestRegistersPending(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 4)

	deliverQuery(tr, 5, "req")
	q, ok, err := svc.TakeRequest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), q.SequenceNumber())

	got, ok := svc.TakePending(5)
	require.True(t, ok)
	require.Same(t, q, got)
	q.Release()

	_, ok, err = svc.TakeRequest()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTakeRequestDuplicateSequence(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 4)

	deliverQuery(tr, 5, "first")
	_, ok, err := svc.TakeRequest()
	require.NoError(t, err)
	require.True(t, ok)

	dup := deliverQuery(tr, 5, "second")
	_, ok, err = svc.TakeRequest()
	require.ErrorIs(t, err, ErrDuplicateSequence)
	require.False(t, ok)
	// The conflicting query was released, not leaked.
	require.Equal(t, 1, dup.clones[0].released)
}

func TestRespondSendsAndReleases(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 4)

	orig := deliverQuery(tr, 9, "req")
	_, ok, err := svc.TakeRequest()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Respond(9, []byte("resp")))
	require.Equal(t, [][]byte{[]byte("resp")}, orig.clones[0].replies)
	require.Equal(t, 1, orig.clones[0].released)

	// Answering again finds nothing pending.
	require.ErrorIs(t, svc.Respond(9, []byte("again")), ErrUnknownSequence)
}

func TestServiceNewRequestCallbackFlush(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, tr, 10)

	deliverQuery(tr, 1, "a")
	deliverQuery(tr, 2, "b")

	var counts []uint64
	require.NoError(t, svc.SetOnNewRequestCallback(func(_ any, count uint64) {
		counts = append(counts, count)
	}, nil))
	require.Equal(t, []uint64{2}, counts)
}

func TestServiceCloseReleasesQueueAndPending(t *testing.T) {
	tr := &fakeTransport{}
	svc, err := NewService(tr, "svc/echo", Options{QueueDepth: 4})
	require.NoError(t, err)

	awaitingAnswer := deliverQuery(tr, 1, "first")
	stillQueued := deliverQuery(tr, 2, "second")

	q1, ok := svc.PopNextQuery()
	require.True(t, ok)
	require.Equal(t, int64(1), q1.SequenceNumber())
	require.True(t, svc.RegisterPending(1, q1))

	// Seq 1 sits in the correlation table, seq 2 in the FIFO; teardown
	// must release both exactly once.
	require.NoError(t, svc.Close())
	require.Equal(t, 1, awaitingAnswer.clones[0].released)
	require.Equal(t, 1, stillQueued.clones[0].released)
}
