// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rmw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/takasehideki/rmw-zenoh/events"
	"github.com/takasehideki/rmw-zenoh/transport"
)

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(nil, "demo/chatter", Options{})
	require.ErrorIs(t, err, ErrNilTransport)

	_, err = NewPublisher(&fakeTransport{}, "", Options{})
	require.ErrorIs(t, err, ErrEmptyKeyExpr)
}

func TestPublisherPublish(t *testing.T) {
	tr := &fakeTransport{}
	pub, err := NewPublisher(tr, "demo/chatter", Options{})
	require.NoError(t, err)

	require.NoError(t, pub.Publish([]byte("hello")))
	require.NoError(t, pub.Publish([]byte("world")))
	require.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, tr.puts)
}

func TestPublisherIdentityIsStable(t *testing.T) {
	pub, err := NewPublisher(&fakeTransport{}, "demo/chatter", Options{})
	require.NoError(t, err)

	require.NotEqual(t, transport.GID{}, pub.GID())
	require.Equal(t, pub.GID(), pub.GID())

	other, err := NewPublisher(&fakeTransport{}, "demo/chatter", Options{})
	require.NoError(t, err)
	require.NotEqual(t, pub.GID(), other.GID())
}

func TestPublisherOfferedQoSEvents(t *testing.T) {
	pub, err := NewPublisher(&fakeTransport{}, "demo/chatter", Options{})
	require.NoError(t, err)

	var counts []uint64
	require.NoError(t, pub.SetEventCallback(events.KindOfferedQoSIncompatible,
		func(_ any, n uint64) { counts = append(counts, n) }, nil))

	require.NoError(t, pub.AddEvent(events.KindOfferedQoSIncompatible,
		&events.Status{TotalCount: 1, TotalCountChange: 1}))
	require.Equal(t, []uint64{1}, counts)

	st, ok, err := pub.TakeEvent(events.KindOfferedQoSIncompatible)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), st.TotalCount)

	empty, err := pub.EventQueueIsEmpty(events.KindOfferedQoSIncompatible)
	require.NoError(t, err)
	require.True(t, empty)
}

func TestPublisherRejectsSubscriberEventKinds(t *testing.T) {
	pub, err := NewPublisher(&fakeTransport{}, "demo/chatter", Options{})
	require.NoError(t, err)

	err = pub.AddEvent(events.KindRequestedQoSIncompatible, &events.Status{})
	require.ErrorIs(t, err, events.ErrUnsupportedKind)
}

func TestPublisherClose(t *testing.T) {
	tr := &fakeTransport{}
	pub, err := NewPublisher(tr, "demo/chatter", Options{})
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	require.ErrorIs(t, pub.Publish([]byte("late")), ErrClosed)
}
