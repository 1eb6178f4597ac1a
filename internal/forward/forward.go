// Package forward stores, per input, the key/value map most recently indexed
// for it. The snapshot is never queried for content; it only seeds the diff
// against the next indexing pass of the same input.
package forward

import "encoding/binary"

// Index is a forward snapshot store.
type Index[K comparable, V comparable] interface {
	// DiffBuilder returns a builder seeded with the stored snapshot of
	// inputID, which is empty when nothing is stored.
	DiffBuilder(inputID uint32) (DiffBuilder[K, V], error)
	// Put replaces the snapshot of inputID. An empty map deletes it.
	Put(inputID uint32, data map[K]V) error
	Clear() error
	Flush() error
	Close() error
}

// DiffBuilder classifies the keys of a new map against a previous snapshot.
type DiffBuilder[K comparable, V comparable] interface {
	// Differentiate reports every key exactly once: onAdded for keys absent
	// from the snapshot, onUpdated for keys whose value changed, onRemoved
	// for snapshot keys missing from newData. It returns whether any
	// callback ran.
	Differentiate(
		newData map[K]V,
		onAdded func(K, V) error,
		onUpdated func(K, V) error,
		onRemoved func(K) error,
	) (bool, error)
}

// MapDiffBuilder diffs against a decoded snapshot map.
type MapDiffBuilder[K comparable, V comparable] struct {
	old map[K]V
}

// NewMapDiffBuilder returns a builder over old; nil means no snapshot.
func NewMapDiffBuilder[K comparable, V comparable](old map[K]V) *MapDiffBuilder[K, V] {
	return &MapDiffBuilder[K, V]{old: old}
}

func (b *MapDiffBuilder[K, V]) Differentiate(
	newData map[K]V,
	onAdded func(K, V) error,
	onUpdated func(K, V) error,
	onRemoved func(K) error,
) (bool, error) {
	changed := false
	for k, ov := range b.old {
		nv, ok := newData[k]
		switch {
		case !ok:
			if err := onRemoved(k); err != nil {
				return changed, err
			}
		case nv != ov:
			if err := onUpdated(k, nv); err != nil {
				return changed, err
			}
		default:
			continue
		}
		changed = true
	}
	for k, nv := range newData {
		if _, ok := b.old[k]; ok {
			continue
		}
		if err := onAdded(k, nv); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

func inputKey(inputID uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, inputID)
}
