// Package codec defines the value/key serialization contract consumed by the
// containers and forward indexes, a handful of stock codecs, and the varint
// wire helpers shared by every binary format in the module.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// Codec turns a value into bytes and back. Equality of decoded values must
// match equality of the originals.
type Codec[T any] interface {
	Save(v T) ([]byte, error)
	Read(b []byte) (T, error)
}

// String encodes strings as their raw bytes.
type String struct{}

func (String) Save(v string) ([]byte, error) { return []byte(v), nil }
func (String) Read(b []byte) (string, error) { return string(b), nil }

// Uint32 encodes unsigned integers as uvarints.
type Uint32 struct{}

func (Uint32) Save(v uint32) ([]byte, error) {
	return binary.AppendUvarint(nil, uint64(v)), nil
}

func (Uint32) Read(b []byte) (uint32, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 || n != len(b) || v > math.MaxUint32 {
		return 0, ixerrors.Corrupt("bad uint32 encoding")
	}
	return uint32(v), nil
}

// Int32 encodes signed integers as zig-zag varints.
type Int32 struct{}

func (Int32) Save(v int32) ([]byte, error) {
	return binary.AppendVarint(nil, int64(v)), nil
}

func (Int32) Read(b []byte) (int32, error) {
	v, n := binary.Varint(b)
	if n <= 0 || n != len(b) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, ixerrors.Corrupt("bad int32 encoding")
	}
	return int32(v), nil
}

// Empty encodes struct{} values as zero bytes; used by key-only indexes.
type Empty struct{}

func (Empty) Save(struct{}) ([]byte, error) { return nil, nil }

func (Empty) Read(b []byte) (struct{}, error) {
	if len(b) != 0 {
		return struct{}{}, ixerrors.Corrupt("unexpected payload for empty value")
	}
	return struct{}{}, nil
}

// JSON encodes any comparable struct through encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Save(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}
	return b, nil
}

func (JSON[T]) Read(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("%w: unmarshaling value: %v", ixerrors.ErrCorruptData, err)
	}
	return v, nil
}
