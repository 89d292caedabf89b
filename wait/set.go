// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wait

import "context"

// Entity is anything a wait set can block on: it accepts a condition to be
// signaled on delivery and reports whether data is ready to take.
type Entity interface {
	AttachCondition(c *Condition)
	DetachCondition()
	HasData() bool
}

// Set blocks a consumer until any of a group of entities has data. One Set
// serves one waiting consumer at a time.
type Set struct {
	cond *Condition
}

// NewSet creates an empty wait set.
func NewSet() *Set {
	return &Set{cond: NewCondition()}
}

// Wait attaches the set's condition to every entity, then blocks until at
// least one entity has data or ctx is done. Entities are detached before
// returning. The returned slice holds the entities with data, in argument
// order; it is nil when the wait timed out.
func (s *Set) Wait(ctx context.Context, entities ...Entity) ([]Entity, error) {
	for _, e := range entities {
		e.AttachCondition(s.cond)
	}
	defer func() {
		for _, e := range entities {
			e.DetachCondition()
		}
	}()

	for {
		// Check after attaching so a delivery racing the attach is not
		// missed: either it lands before the check, or it signals the
		// already-attached condition.
		var ready []Entity
		for _, e := range entities {
			if e.HasData() {
				ready = append(ready, e)
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}

		if err := s.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
}
