// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wait

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConditionSignalThenWait(t *testing.T) {
	c := NewCondition()
	c.Signal()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestConditionSignalCoalesces(t *testing.T) {
	c := NewCondition()
	c.Signal()
	c.Signal()
	c.Signal()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.ErrorIs(t, c.Wait(short), context.DeadlineExceeded)
}

func TestConditionWaitTimeout(t *testing.T) {
	c := NewCondition()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}

func TestRelayNotifyWithoutConditionIsNoop(t *testing.T) {
	var r Relay
	r.Notify()
	r.Detach()
	r.Detach()
}

func TestRelayNotifySignalsAttached(t *testing.T) {
	var r Relay
	c := NewCondition()
	r.Attach(c)
	r.Notify()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	r.Detach()
	r.Notify()
	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.ErrorIs(t, c.Wait(short), context.DeadlineExceeded)
}

func TestRelayConcurrentAttachDetachNotify(t *testing.T) {
	var r Relay
	c := NewCondition()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Notify()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 500; j++ {
			r.Attach(c)
			r.Detach()
		}
	}()
	wg.Wait()
}

type fakeEntity struct {
	relay Relay
	data  atomic.Int64
}

func (e *fakeEntity) AttachCondition(c *Condition) { e.relay.Attach(c) }
func (e *fakeEntity) DetachCondition()             { e.relay.Detach() }
func (e *fakeEntity) HasData() bool                { return e.data.Load() > 0 }

func (e *fakeEntity) deliver() {
	e.data.Add(1)
	e.relay.Notify()
}

func TestSetWaitReturnsReadyEntity(t *testing.T) {
	a := &fakeEntity{}
	b := &fakeEntity{}
	s := NewSet()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.deliver()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ready, err := s.Wait(ctx, a, b)
	require.NoError(t, err)
	require.Equal(t, []Entity{b}, ready)
}

func TestSetWaitDataAlreadyPresent(t *testing.T) {
	a := &fakeEntity{}
	a.deliver()
	s := NewSet()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ready, err := s.Wait(ctx, a)
	require.NoError(t, err)
	require.Len(t, ready, 1)
}

func TestSetWaitTimeout(t *testing.T) {
	a := &fakeEntity{}
	s := NewSet()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ready, err := s.Wait(ctx, a)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, ready)
}
