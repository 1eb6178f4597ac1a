package container

import (
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/idset"
)

// MaxAppendedDeltas bounds how many delta sections a row accumulates before
// the next write rewrites it in full.
const MaxAppendedDeltas = 8

// ChangeTracking wraps a container loaded from storage and remembers what
// changed since the last write, so a flush can append a small delta section
// instead of rewriting the whole row.
type ChangeTracking[V comparable] struct {
	merged      *ValueContainer[V]
	added       *ValueContainer[V]
	invalidated *idset.Set
	persisted   bool
	appended    int
}

// Track starts tracking changes on top of base. persisted tells whether base
// already exists in storage; a row that does not exist yet is always written
// in full.
func Track[V comparable](base *ValueContainer[V], persisted bool) *ChangeTracking[V] {
	return &ChangeTracking[V]{
		merged:      base,
		added:       New[V](),
		invalidated: idset.New(),
		persisted:   persisted,
	}
}

// Container returns the merged view. Callers must not mutate it directly.
func (t *ChangeTracking[V]) Container() *ValueContainer[V] {
	return t.merged
}

func (t *ChangeTracking[V]) AddValue(id uint32, v V) {
	t.merged.AddValue(id, v)
	t.added.AddValue(id, v)
}

func (t *ChangeTracking[V]) RemoveAssociatedValue(id uint32) bool {
	removed := t.merged.RemoveAssociatedValue(id)
	t.added.RemoveAssociatedValue(id)
	if removed && t.persisted {
		t.invalidated.Add(id)
	}
	return removed
}

// Dirty reports whether there are unwritten changes.
func (t *ChangeTracking[V]) Dirty() bool {
	return !t.added.IsEmpty() || !t.invalidated.IsEmpty() || (!t.persisted && !t.merged.IsEmpty())
}

// Persisted reports whether the row exists in storage.
func (t *ChangeTracking[V]) Persisted() bool {
	return t.persisted
}

// PreferFull reports whether the next write should rewrite the row rather
// than append a delta.
func (t *ChangeTracking[V]) PreferFull() bool {
	if !t.persisted || t.merged.NeedsCompaction() || t.appended >= MaxAppendedDeltas {
		return true
	}
	return t.added.Size()+t.invalidated.Len() > t.merged.Size()
}

// SaveDelta appends the invalidation records followed by one section with
// the values added since the last write.
func (t *ChangeTracking[V]) SaveDelta(dst []byte, vc codec.Codec[V]) ([]byte, error) {
	for id := range t.invalidated.All() {
		dst = AppendInvalidation(dst, id)
	}
	if t.added.IsEmpty() {
		return dst, nil
	}
	return t.added.Save(dst, vc)
}

// Committed records that the current state reached storage. full tells
// whether the row was rewritten, which clears the compaction mark.
func (t *ChangeTracking[V]) Committed(full bool) {
	t.added = New[V]()
	t.invalidated = idset.New()
	t.persisted = !t.merged.IsEmpty()
	if full {
		t.merged.needsCompaction = false
		t.appended = 0
	} else {
		t.appended++
	}
}
