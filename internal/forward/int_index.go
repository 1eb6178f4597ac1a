package forward

import (
	"encoding/binary"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/storage"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// IntMapping packs a whole per-input map into a single int32 and back. It
// fits indexes where every input yields at most one key.
type IntMapping[K comparable, V comparable] interface {
	ToInt(data map[K]V) (int32, error)
	FromInt(v int32) map[K]V
}

// IntIndex stores one varint per input instead of a serialized map.
type IntIndex[K comparable, V comparable] struct {
	kv      storage.KV
	mapping IntMapping[K, V]
}

func NewIntIndex[K comparable, V comparable](kv storage.KV, mapping IntMapping[K, V]) *IntIndex[K, V] {
	return &IntIndex[K, V]{kv: kv, mapping: mapping}
}

func (x *IntIndex[K, V]) DiffBuilder(inputID uint32) (DiffBuilder[K, V], error) {
	row, found, err := x.kv.Get(inputKey(inputID))
	if err != nil {
		return nil, ixerrors.Storage(fmt.Errorf("reading snapshot of input %d: %w", inputID, err))
	}
	if !found {
		return NewMapDiffBuilder[K, V](nil), nil
	}
	v, n := binary.Varint(row)
	if n <= 0 || n != len(row) {
		return nil, ixerrors.Corrupt("bad int snapshot for input %d", inputID)
	}
	return NewMapDiffBuilder(x.mapping.FromInt(int32(v))), nil
}

func (x *IntIndex[K, V]) Put(inputID uint32, data map[K]V) error {
	if len(data) == 0 {
		return ixerrors.Storage(x.kv.Delete(inputKey(inputID)))
	}
	v, err := x.mapping.ToInt(data)
	if err != nil {
		return fmt.Errorf("mapping snapshot of input %d: %w", inputID, err)
	}
	return ixerrors.Storage(x.kv.Set(inputKey(inputID), binary.AppendVarint(nil, int64(v))))
}

func (x *IntIndex[K, V]) Clear() error { return ixerrors.Storage(x.kv.Clear()) }
func (x *IntIndex[K, V]) Flush() error { return ixerrors.Storage(x.kv.Flush()) }
func (x *IntIndex[K, V]) Close() error { return x.kv.Close() }

// KeyOnlyMapping maps a single int32 key with an empty value to the key
// itself.
type KeyOnlyMapping struct{}

func (KeyOnlyMapping) ToInt(data map[int32]struct{}) (int32, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: key-only snapshot holds %d keys, want 1", ixerrors.ErrInvalidInput, len(data))
	}
	for k := range data {
		return k, nil
	}
	return 0, nil
}

func (KeyOnlyMapping) FromInt(v int32) map[int32]struct{} {
	return map[int32]struct{}{v: {}}
}
