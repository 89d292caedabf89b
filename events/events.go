// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events implements per-entity liveness notification: an optional
// listener callback with an unread-event counter per event kind, and a small
// bounded queue of event status records for pollers.
package events

import (
	"errors"
	"fmt"
)

// Kind identifies an event category an entity can report.
type Kind int

const (
	// KindInvalid is the zero value sentinel and is never supported.
	KindInvalid Kind = iota

	// KindNewData fires once per delivered message, query or reply.
	KindNewData

	// KindRequestedQoSIncompatible fires on a subscription whose requested
	// QoS cannot be satisfied by a matched publisher.
	KindRequestedQoSIncompatible

	// KindOfferedQoSIncompatible fires on a publisher whose offered QoS
	// cannot satisfy a matched subscription.
	KindOfferedQoSIncompatible
)

const kindCount = int(KindOfferedQoSIncompatible) + 1

// ErrUnsupportedKind is returned when a caller addresses an event kind the
// entity does not track. It indicates a configuration defect upstream.
var ErrUnsupportedKind = errors.New("unsupported event kind")

func (k Kind) String() string {
	switch k {
	case KindNewData:
		return "new_data"
	case KindRequestedQoSIncompatible:
		return "requested_qos_incompatible"
	case KindOfferedQoSIncompatible:
		return "offered_qos_incompatible"
	default:
		return fmt.Sprintf("invalid(%d)", int(k))
	}
}

func checkKind(k Kind) error {
	if k <= KindInvalid || int(k) >= kindCount {
		return fmt.Errorf("event kind %d: %w", int(k), ErrUnsupportedKind)
	}
	return nil
}

// Status records one occurrence of a non-data event, mirroring the counters
// the application-facing layer exposes when it takes the event.
type Status struct {
	TotalCount       uint64
	TotalCountChange uint64
	CurrentCount     uint64
	Data             string
}

// Callback is a listener invoked with the opaque context it was registered
// with and the number of events being reported.
type Callback func(ctx any, count uint64)
