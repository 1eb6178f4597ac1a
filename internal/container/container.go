// Package container implements the per-key value container of the reverse
// index: a mapping from each distinct value to the set of input ids that
// produced it under one key.
//
// Almost every key carries zero or one distinct value, so the container is a
// tagged variant. It stays Empty or Single (one value and an inline id set)
// and only escalates to Multi (value -> id set map) once a second distinct
// value shows up. Removals that bring the distinct count back to one
// de-escalate to Single.
package container

import (
	"fmt"
	"iter"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/idset"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

type state uint8

const (
	stateEmpty state = iota
	stateSingle
	stateMulti
)

// ValueContainer is not safe for concurrent use; the owning index guards it.
type ValueContainer[V comparable] struct {
	state state
	value V
	ids   *idset.Set
	multi map[V]*idset.Set

	needsCompaction bool
}

// New returns an empty container.
func New[V comparable]() *ValueContainer[V] {
	return &ValueContainer[V]{}
}

// AddValue associates id with v.
func (c *ValueContainer[V]) AddValue(id uint32, v V) {
	switch c.state {
	case stateEmpty:
		c.state = stateSingle
		c.value = v
		c.ids = idset.Of(id)
	case stateSingle:
		if c.value == v {
			c.ids.Add(id)
			return
		}
		c.multi = map[V]*idset.Set{c.value: c.ids, v: idset.Of(id)}
		var zero V
		c.value = zero
		c.ids = nil
		c.state = stateMulti
	case stateMulti:
		ids, ok := c.multi[v]
		if !ok {
			c.multi[v] = idset.Of(id)
			return
		}
		ids.Add(id)
	}
}

// RemoveValue detaches id from v and reports whether anything changed.
func (c *ValueContainer[V]) RemoveValue(id uint32, v V) bool {
	ids := c.Get(v)
	if ids == nil {
		return false
	}
	return c.RemoveValueFrom(id, ids, v)
}

// RemoveValueFrom detaches id from ids, which must be the id set currently
// stored for v. It saves the value lookup when the caller already holds the
// set, e.g. while scanning All.
func (c *ValueContainer[V]) RemoveValueFrom(id uint32, ids *idset.Set, v V) bool {
	if !ids.Remove(id) {
		return false
	}
	if ids.IsEmpty() {
		c.dropValue(v)
	}
	return true
}

// RemoveAssociatedValue detaches id from every value holding it. Normally
// that is at most one value.
func (c *ValueContainer[V]) RemoveAssociatedValue(id uint32) bool {
	switch c.state {
	case stateSingle:
		return c.RemoveValueFrom(id, c.ids, c.value)
	case stateMulti:
		var holders []V
		for v, ids := range c.multi {
			if ids.Contains(id) {
				holders = append(holders, v)
			}
		}
		for _, v := range holders {
			c.RemoveValue(id, v)
		}
		return len(holders) > 0
	}
	return false
}

// Get returns the id set of v, or nil.
func (c *ValueContainer[V]) Get(v V) *idset.Set {
	switch c.state {
	case stateSingle:
		if c.value == v {
			return c.ids
		}
	case stateMulti:
		return c.multi[v]
	}
	return nil
}

// Size returns the number of distinct values with at least one id.
func (c *ValueContainer[V]) Size() int {
	switch c.state {
	case stateSingle:
		return 1
	case stateMulti:
		return len(c.multi)
	}
	return 0
}

// IsEmpty reports whether no value is held.
func (c *ValueContainer[V]) IsEmpty() bool {
	return c.state == stateEmpty
}

// IsMulti reports whether the container has escalated to the map form.
func (c *ValueContainer[V]) IsMulti() bool {
	return c.state == stateMulti
}

// All yields every value with its id set. The sequence is single pass and
// must not be interleaved with mutations.
func (c *ValueContainer[V]) All() iter.Seq2[V, *idset.Set] {
	return func(yield func(V, *idset.Set) bool) {
		switch c.state {
		case stateSingle:
			yield(c.value, c.ids)
		case stateMulti:
			for v, ids := range c.multi {
				if !yield(v, ids) {
					return
				}
			}
		}
	}
}

// ValueOf returns the value id is associated with.
func (c *ValueContainer[V]) ValueOf(id uint32) (V, bool) {
	for v, ids := range c.All() {
		if ids.Contains(id) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Clone returns a deep copy whose id sets are independent of c. The clone
// carries no serialization state.
func (c *ValueContainer[V]) Clone() *ValueContainer[V] {
	out := &ValueContainer[V]{state: c.state, value: c.value}
	switch c.state {
	case stateSingle:
		out.ids = c.ids.Clone()
	case stateMulti:
		out.multi = make(map[V]*idset.Set, len(c.multi))
		for v, ids := range c.multi {
			out.multi[v] = ids.Clone()
		}
	}
	return out
}

// Normalize sorts every pending id buffer so that concurrent readers never
// trigger a lazy sort.
func (c *ValueContainer[V]) Normalize() {
	for _, ids := range c.All() {
		ids.Normalize()
	}
}

// NeedsCompaction reports whether the serialized form carried appended
// invalidation records or deltas and should be rewritten in full.
func (c *ValueContainer[V]) NeedsCompaction() bool {
	return c.needsCompaction
}

// Validate checks that no id is associated with more than one value.
func (c *ValueContainer[V]) Validate() error {
	if c.state != stateMulti {
		return nil
	}
	seen := make(map[uint32]V)
	for v, ids := range c.multi {
		for id := range ids.All() {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("%w: input %d associated with values %v and %v",
					ixerrors.ErrCorruptData, id, prev, v)
			}
			seen[id] = v
		}
	}
	return nil
}

// Equal reports whether both containers hold the same value -> ids mapping.
func (c *ValueContainer[V]) Equal(o *ValueContainer[V]) bool {
	if c.Size() != o.Size() {
		return false
	}
	for v, ids := range c.All() {
		other := o.Get(v)
		if other == nil || !ids.Equal(other) {
			return false
		}
	}
	return true
}

func (c *ValueContainer[V]) dropValue(v V) {
	switch c.state {
	case stateSingle:
		c.reset()
	case stateMulti:
		delete(c.multi, v)
		switch len(c.multi) {
		case 0:
			c.reset()
		case 1:
			for rv, ids := range c.multi {
				c.value = rv
				c.ids = ids
			}
			c.multi = nil
			c.state = stateSingle
		}
	}
}

func (c *ValueContainer[V]) reset() {
	var zero V
	c.state = stateEmpty
	c.value = zero
	c.ids = nil
	c.multi = nil
}
