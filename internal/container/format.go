package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/idset"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// Serialized layout, all integers varint encoded. Input ids go on the wire
// as id+1 so that zero never appears in a position where sign matters.
//
//	section      := count value* | invalidation
//	count        := varint >= 0, number of values that follow
//	invalidation := varint < 0, -(id+1): drop every association of id
//	value        := uvarint len, codec bytes, ids
//	ids          := varint id+1                     one id
//	              | varint -N, uvarint delta * N    N ascending ids, first absolute
//
// A row is a concatenation of sections. A full write emits a single section;
// appended deltas add invalidations and further sections.

// Save appends the full serialized form of c to dst.
func (c *ValueContainer[V]) Save(dst []byte, vc codec.Codec[V]) ([]byte, error) {
	dst = binary.AppendVarint(dst, int64(c.Size()))
	for v, ids := range c.All() {
		var err error
		if dst, err = appendValue(dst, v, ids, vc); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// Load replaces the contents of c with the sections serialized in src.
func (c *ValueContainer[V]) Load(src []byte, vc codec.Codec[V]) error {
	c.reset()
	c.needsCompaction = false
	r := codec.NewReader(src)
	sections := 0
	for r.Len() > 0 {
		n, err := r.Varint()
		if err != nil {
			return err
		}
		if n < 0 {
			id, err := wireID(-n)
			if err != nil {
				return err
			}
			c.RemoveAssociatedValue(id)
			c.needsCompaction = true
			continue
		}
		sections++
		for i := int64(0); i < n; i++ {
			if err := c.readValue(r, vc); err != nil {
				return fmt.Errorf("reading value %d of %d: %w", i, n, err)
			}
		}
	}
	if sections > 1 {
		c.needsCompaction = true
	}
	c.Normalize()
	return nil
}

// AppendInvalidation appends a record that drops every association of id.
func AppendInvalidation(dst []byte, id uint32) []byte {
	return binary.AppendVarint(dst, -(int64(id) + 1))
}

func appendValue[V comparable](dst []byte, v V, ids *idset.Set, vc codec.Codec[V]) ([]byte, error) {
	b, err := vc.Save(v)
	if err != nil {
		return nil, fmt.Errorf("saving value: %w", err)
	}
	dst = codec.AppendBytes(dst, b)
	if id, ok := ids.Single(); ok {
		return binary.AppendVarint(dst, int64(id)+1), nil
	}
	dst = binary.AppendVarint(dst, -int64(ids.Len()))
	var prev uint64
	for id := range ids.All() {
		w := uint64(id) + 1
		dst = binary.AppendUvarint(dst, w-prev)
		prev = w
	}
	return dst, nil
}

func (c *ValueContainer[V]) readValue(r *codec.Reader, vc codec.Codec[V]) error {
	b, err := r.Bytes()
	if err != nil {
		return err
	}
	v, err := vc.Read(b)
	if err != nil {
		return fmt.Errorf("reading value: %w", err)
	}
	head, err := r.Varint()
	if err != nil {
		return err
	}
	if head > 0 {
		id, err := wireID(head)
		if err != nil {
			return err
		}
		c.AddValue(id, v)
		return nil
	}
	if head == 0 {
		return ixerrors.Corrupt("empty id set")
	}
	var prev uint64
	for i := int64(0); i < -head; i++ {
		delta, err := r.Uvarint()
		if err != nil {
			return err
		}
		if delta == 0 && i > 0 {
			return ixerrors.Corrupt("non-ascending id delta")
		}
		prev += delta
		id, err := wireID(int64(prev))
		if err != nil {
			return err
		}
		c.AddValue(id, v)
	}
	return nil
}

func wireID(w int64) (uint32, error) {
	if w <= 0 || w-1 > math.MaxUint32 {
		return 0, ixerrors.Corrupt("input id %d out of range", w-1)
	}
	return uint32(w - 1), nil
}
