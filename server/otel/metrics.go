// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the delivery subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	deliveriesTotal   metric.Int64Counter
	evictionsTotal    metric.Int64Counter
	repliesDropped    metric.Int64Counter
	callbacksTotal    metric.Int64Counter
	requestsTotal     metric.Int64Counter
	correlationMisses metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("rmw-zenoh"),
	}

	var err error

	m.deliveriesTotal, err = m.meter.Int64Counter(
		"rmw.deliveries.total",
		metric.WithDescription("Total deliveries accepted from the transport, by entity kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveriesTotal counter: %w", err)
	}

	m.evictionsTotal, err = m.meter.Int64Counter(
		"rmw.evictions.total",
		metric.WithDescription("Total queued items evicted at the depth bound, by entity kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evictionsTotal counter: %w", err)
	}

	m.repliesDropped, err = m.meter.Int64Counter(
		"rmw.replies.dropped.total",
		metric.WithDescription("Total invalid or error-carrying replies discarded"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create repliesDropped counter: %w", err)
	}

	m.callbacksTotal, err = m.meter.Int64Counter(
		"rmw.callbacks.dispatched.total",
		metric.WithDescription("Total listener callback dispatches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callbacksTotal counter: %w", err)
	}

	m.requestsTotal, err = m.meter.Int64Counter(
		"rmw.requests.sent.total",
		metric.WithDescription("Total client requests sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requestsTotal counter: %w", err)
	}

	m.correlationMisses, err = m.meter.Int64Counter(
		"rmw.correlation.misses.total",
		metric.WithDescription("Total correlation table lookups for an absent sequence number"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlationMisses counter: %w", err)
	}

	return m, nil
}

func entityAttr(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("entity", kind))
}

// RecordDelivery increments the delivery counter for an entity kind.
func (m *Metrics) RecordDelivery(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.Add(ctx, 1, entityAttr(kind))
}

// RecordEviction increments the eviction counter for an entity kind.
func (m *Metrics) RecordEviction(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.evictionsTotal.Add(ctx, 1, entityAttr(kind))
}

// RecordDroppedReply increments the dropped-reply counter.
func (m *Metrics) RecordDroppedReply(ctx context.Context) {
	if m == nil {
		return
	}
	m.repliesDropped.Add(ctx, 1)
}

// RecordCallback increments the callback dispatch counter.
func (m *Metrics) RecordCallback(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.callbacksTotal.Add(ctx, 1, entityAttr(kind))
}

// RecordRequest increments the sent-request counter.
func (m *Metrics) RecordRequest(ctx context.Context) {
	if m == nil {
		return
	}
	m.requestsTotal.Add(ctx, 1)
}

// RecordCorrelationMiss increments the correlation-miss counter.
func (m *Metrics) RecordCorrelationMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.correlationMisses.Add(ctx, 1)
}
