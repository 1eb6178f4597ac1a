package forward

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/storage"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// MapIndex stores each snapshot as a serialized key/value map:
//
//	uvarint n, then n × (uvarint len, key bytes, uvarint len, value bytes)
//
// Entries are sorted by encoded key so equal maps produce equal rows.
type MapIndex[K comparable, V comparable] struct {
	kv         storage.KV
	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]
}

func NewMapIndex[K comparable, V comparable](kv storage.KV, keyCodec codec.Codec[K], valueCodec codec.Codec[V]) *MapIndex[K, V] {
	return &MapIndex[K, V]{kv: kv, keyCodec: keyCodec, valueCodec: valueCodec}
}

func (m *MapIndex[K, V]) DiffBuilder(inputID uint32) (DiffBuilder[K, V], error) {
	row, found, err := m.kv.Get(inputKey(inputID))
	if err != nil {
		return nil, ixerrors.Storage(fmt.Errorf("reading snapshot of input %d: %w", inputID, err))
	}
	if !found {
		return NewMapDiffBuilder[K, V](nil), nil
	}
	old, err := m.decode(row)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot of input %d: %w", inputID, err)
	}
	return NewMapDiffBuilder(old), nil
}

func (m *MapIndex[K, V]) Put(inputID uint32, data map[K]V) error {
	if len(data) == 0 {
		return ixerrors.Storage(m.kv.Delete(inputKey(inputID)))
	}
	row, err := m.encode(data)
	if err != nil {
		return fmt.Errorf("encoding snapshot of input %d: %w", inputID, err)
	}
	return ixerrors.Storage(m.kv.Set(inputKey(inputID), row))
}

func (m *MapIndex[K, V]) Clear() error { return ixerrors.Storage(m.kv.Clear()) }
func (m *MapIndex[K, V]) Flush() error { return ixerrors.Storage(m.kv.Flush()) }
func (m *MapIndex[K, V]) Close() error { return m.kv.Close() }

type encodedEntry struct {
	key, value []byte
}

func (m *MapIndex[K, V]) encode(data map[K]V) ([]byte, error) {
	entries := make([]encodedEntry, 0, len(data))
	for k, v := range data {
		kb, err := m.keyCodec.Save(k)
		if err != nil {
			return nil, fmt.Errorf("saving key: %w", err)
		}
		vb, err := m.valueCodec.Save(v)
		if err != nil {
			return nil, fmt.Errorf("saving value: %w", err)
		}
		entries = append(entries, encodedEntry{kb, vb})
	}
	slices.SortFunc(entries, func(a, b encodedEntry) int {
		return bytes.Compare(a.key, b.key)
	})
	row := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		row = codec.AppendBytes(row, e.key)
		row = codec.AppendBytes(row, e.value)
	}
	return row, nil
}

func (m *MapIndex[K, V]) decode(row []byte) (map[K]V, error) {
	r := codec.NewReader(row)
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, ixerrors.Corrupt("snapshot entry count %d exceeds row size", n)
	}
	out := make(map[K]V, n)
	for i := uint64(0); i < n; i++ {
		kb, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		vb, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		k, err := m.keyCodec.Read(kb)
		if err != nil {
			return nil, fmt.Errorf("reading key: %w", err)
		}
		v, err := m.valueCodec.Read(vb)
		if err != nil {
			return nil, fmt.Errorf("reading value: %w", err)
		}
		out[k] = v
	}
	if r.Len() != 0 {
		return nil, ixerrors.Corrupt("%d trailing bytes after snapshot", r.Len())
	}
	return out, nil
}
