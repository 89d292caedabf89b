// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package inproc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/takasehideki/rmw-zenoh/transport"
)

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	tr := New()
	defer tr.Close()

	var got []string
	sub, err := tr.DeclareSubscriber("demo/*", func(s transport.Sample) {
		got = append(got, string(s.Payload.Bytes()))
		s.Payload.Release()
	})
	require.NoError(t, err)
	defer sub.Close()

	other, err := tr.DeclareSubscriber("elsewhere/topic", func(s transport.Sample) {
		t.Error("non-matching subscriber invoked")
	})
	require.NoError(t, err)
	defer other.Close()

	gid := transport.GID{1, 2, 3}
	pub, err := tr.DeclarePublisher("demo/chatter", gid)
	require.NoError(t, err)

	require.NoError(t, pub.Put([]byte("one")))
	require.NoError(t, pub.Put([]byte("two")))

	require.Equal(t, []string{"one", "two"}, got)
}

func TestSampleCarriesGIDAndTimestamp(t *testing.T) {
	tr := New()
	defer tr.Close()

	var sample transport.Sample
	_, err := tr.DeclareSubscriber("demo/chatter", func(s transport.Sample) {
		sample = s
	})
	require.NoError(t, err)

	gid := transport.GID{0xAA, 0xBB}
	pub, err := tr.DeclarePublisher("demo/chatter", gid)
	require.NoError(t, err)
	require.NoError(t, pub.Put([]byte("x")))

	require.Equal(t, gid, sample.SourceGID)
	require.NotZero(t, sample.Timestamp)
	require.Equal(t, "demo/chatter", sample.KeyExpr)
	sample.Payload.Release()
}

func TestSubscriberCloseStopsDelivery(t *testing.T) {
	tr := New()
	defer tr.Close()

	var count int
	sub, err := tr.DeclareSubscriber("demo/chatter", func(s transport.Sample) {
		count++
		s.Payload.Release()
	})
	require.NoError(t, err)

	pub, err := tr.DeclarePublisher("demo/chatter", transport.GID{})
	require.NoError(t, err)

	require.NoError(t, pub.Put([]byte("a")))
	require.NoError(t, sub.Close())
	require.NoError(t, pub.Put([]byte("b")))

	require.Equal(t, 1, count)
}

func TestQueryRoundTrip(t *testing.T) {
	tr := New()
	defer tr.Close()

	qable, err := tr.DeclareQueryable("svc/add", func(q transport.Query) {
		require.Equal(t, int64(7), q.Attachment().SequenceNumber)
		require.NoError(t, q.Reply(append([]byte("echo:"), q.Bytes()...)))
	})
	require.NoError(t, err)
	defer qable.Close()

	var replies []string
	att := transport.Attachment{SequenceNumber: 7, SourceGID: transport.GID{1}}
	err = tr.Query("svc/add", []byte("req"), att, func(r transport.Reply) {
		require.True(t, r.OK())
		require.Equal(t, int64(7), r.Attachment().SequenceNumber)
		replies = append(replies, string(r.Bytes()))
		r.Release()
	})
	require.NoError(t, err)
	require.Equal(t, []string{"echo:req"}, replies)
}

func TestQueryNoQueryable(t *testing.T) {
	tr := New()
	defer tr.Close()

	err := tr.Query("svc/none", nil, transport.Attachment{}, func(transport.Reply) {})
	require.ErrorIs(t, err, ErrNoQueryable)
}

func TestQueryCloneOutlivesCallback(t *testing.T) {
	tr := New()
	defer tr.Close()

	var saved transport.Query
	_, err := tr.DeclareQueryable("svc/defer", func(q transport.Query) {
		saved = q.Clone()
	})
	require.NoError(t, err)

	var answered bool
	att := transport.Attachment{SequenceNumber: 1}
	require.NoError(t, tr.Query("svc/defer", []byte("later"), att, func(r transport.Reply) {
		answered = true
		require.Equal(t, "deferred", string(r.Bytes()))
		r.Release()
	}))

	// The callback has returned; the clone still answers.
	require.False(t, answered)
	require.Equal(t, "later", string(saved.Bytes()))
	require.NoError(t, saved.Reply([]byte("deferred")))
	require.True(t, answered)
	saved.Release()
}

func TestClosedTransportRejectsDeclarations(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Close())

	_, err := tr.DeclarePublisher("demo", transport.GID{})
	require.ErrorIs(t, err, ErrClosed)

	_, err = tr.DeclareSubscriber("demo", func(transport.Sample) {})
	require.ErrorIs(t, err, ErrClosed)

	_, err = tr.DeclareQueryable("demo", func(transport.Query) {})
	require.ErrorIs(t, err, ErrClosed)

	err = tr.Query("demo", nil, transport.Attachment{}, func(transport.Reply) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestPayloadReleaseIdempotent(t *testing.T) {
	p := newPayload([]byte("x"))
	require.Equal(t, "x", string(p.Bytes()))
	p.Release()
	p.Release() // second release is a no-op
}
