// Package idset provides the growable integer set used to hold the input ids
// associated with one value of one key. The set stays inline for a single id,
// uses an append buffer that is sorted lazily for small sets, and switches to a
// roaring bitmap once it grows past a threshold.
package idset

import (
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// BitmapThreshold is the buffer length above which a set is promoted to a
// roaring bitmap.
const BitmapThreshold = 64

type kind uint8

const (
	kindEmpty kind = iota
	kindOne
	kindList
	kindBitmap
)

// Set is not safe for concurrent mutation. Read methods may sort the append
// buffer in place; a set shared between readers must be Normalized by its
// writer first.
type Set struct {
	kind   kind
	one    uint32
	list   []uint32
	sorted bool
	bm     *roaring.Bitmap
}

// New returns an empty set.
func New() *Set {
	return &Set{}
}

// Of returns a set holding the given ids.
func Of(ids ...uint32) *Set {
	s := New()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. Appends are amortized O(1); duplicates are folded on the
// next normalization.
func (s *Set) Add(id uint32) {
	switch s.kind {
	case kindEmpty:
		s.kind = kindOne
		s.one = id
	case kindOne:
		if s.one == id {
			return
		}
		s.kind = kindList
		s.list = append(make([]uint32, 0, 4), s.one, id)
		s.sorted = s.one < id
	case kindList:
		if n := len(s.list); s.sorted && s.list[n-1] >= id {
			if s.list[n-1] == id {
				return
			}
			s.sorted = false
		}
		s.list = append(s.list, id)
		if len(s.list) > BitmapThreshold {
			s.promote()
		}
	case kindBitmap:
		s.bm.Add(id)
	}
}

// Remove deletes id and reports whether it was present.
func (s *Set) Remove(id uint32) bool {
	switch s.kind {
	case kindOne:
		if s.one != id {
			return false
		}
		s.kind = kindEmpty
		s.one = 0
		return true
	case kindList:
		s.Normalize()
		i, found := slices.BinarySearch(s.list, id)
		if !found {
			return false
		}
		s.list = slices.Delete(s.list, i, i+1)
		s.demote()
		return true
	case kindBitmap:
		if !s.bm.CheckedRemove(id) {
			return false
		}
		s.demote()
		return true
	}
	return false
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id uint32) bool {
	switch s.kind {
	case kindOne:
		return s.one == id
	case kindList:
		if s.sorted {
			_, found := slices.BinarySearch(s.list, id)
			return found
		}
		return slices.Contains(s.list, id)
	case kindBitmap:
		return s.bm.Contains(id)
	}
	return false
}

// Len returns the number of distinct ids.
func (s *Set) Len() int {
	switch s.kind {
	case kindOne:
		return 1
	case kindList:
		s.Normalize()
		return len(s.list)
	case kindBitmap:
		return int(s.bm.GetCardinality())
	}
	return 0
}

// IsEmpty reports whether the set holds no ids.
func (s *Set) IsEmpty() bool {
	return s == nil || s.kind == kindEmpty
}

// Single returns the only id of a one-element set.
func (s *Set) Single() (uint32, bool) {
	if s.Len() != 1 {
		return 0, false
	}
	for id := range s.All() {
		return id, true
	}
	return 0, false
}

// All yields the ids in ascending order.
func (s *Set) All() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		switch s.kind {
		case kindOne:
			yield(s.one)
		case kindList:
			s.Normalize()
			for _, id := range s.list {
				if !yield(id) {
					return
				}
			}
		case kindBitmap:
			it := s.bm.Iterator()
			for it.HasNext() {
				if !yield(it.Next()) {
					return
				}
			}
		}
	}
}

// Slice returns the ids in ascending order.
func (s *Set) Slice() []uint32 {
	out := make([]uint32, 0, s.Len())
	for id := range s.All() {
		out = append(out, id)
	}
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	c := &Set{kind: s.kind, one: s.one, sorted: s.sorted}
	switch s.kind {
	case kindList:
		c.list = slices.Clone(s.list)
	case kindBitmap:
		c.bm = s.bm.Clone()
	}
	return c
}

// Equal reports whether both sets hold the same ids.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for id := range s.All() {
		if !o.Contains(id) {
			return false
		}
	}
	return true
}

// Normalize sorts and de-duplicates the append buffer.
func (s *Set) Normalize() {
	if s.kind != kindList || s.sorted {
		return
	}
	slices.Sort(s.list)
	s.list = slices.Compact(s.list)
	s.sorted = true
	s.demote()
}

func (s *Set) promote() {
	bm := roaring.New()
	bm.AddMany(s.list)
	s.bm = bm
	s.list = nil
	s.sorted = false
	s.kind = kindBitmap
}

func (s *Set) demote() {
	switch s.kind {
	case kindList:
		switch len(s.list) {
		case 0:
			s.kind = kindEmpty
			s.list = nil
		case 1:
			s.kind = kindOne
			s.one = s.list[0]
			s.list = nil
		}
	case kindBitmap:
		switch s.bm.GetCardinality() {
		case 0:
			s.kind = kindEmpty
			s.bm = nil
		case 1:
			s.kind = kindOne
			s.one = s.bm.Minimum()
			s.bm = nil
		}
	}
}
