// Package storage holds the reverse index row store (key -> value container)
// and the byte-level KV backends it and the forward indexes persist into.
package storage

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Writer is the mutation half of a KV.
type Writer interface {
	Set(key, value []byte) error
	// Merge appends value to whatever is stored under key.
	Merge(key, value []byte) error
	Delete(key []byte) error
}

// KV is a namespaced byte store. Implementations must tolerate Get running
// concurrently with Update and Flush.
type KV interface {
	Writer
	Get(key []byte) ([]byte, bool, error)
	// Update applies every write issued by fn atomically.
	Update(fn func(w Writer) error) error
	// Clear removes every key of the namespace.
	Clear() error
	Flush() error
	Close() error
}

// MemoryKV is a map-backed KV used for transient indexes and tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (m *MemoryKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = slices.Clone(value)
	return nil
}

func (m *MemoryKV) Merge(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	m.data[k] = append(m.data[k], value...)
	return nil
}

func (m *MemoryKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Update stages writes and applies them only if fn succeeds.
func (m *MemoryKV) Update(fn func(w Writer) error) error {
	b := &memoryBatch{}
	if err := fn(b); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.ops {
		k := string(op.key)
		switch op.kind {
		case opSet:
			m.data[k] = op.value
		case opMerge:
			m.data[k] = append(m.data[k], op.value...)
		case opDelete:
			delete(m.data, k)
		}
	}
	return nil
}

func (m *MemoryKV) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	return nil
}

func (m *MemoryKV) Flush() error { return nil }

func (m *MemoryKV) Close() error { return nil }

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Keys returns the stored keys with the given prefix, sorted.
func (m *MemoryKV) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range maps.Keys(m.data) {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

type opKind uint8

const (
	opSet opKind = iota
	opMerge
	opDelete
)

type memoryOp struct {
	kind       opKind
	key, value []byte
}

type memoryBatch struct {
	ops []memoryOp
}

func (b *memoryBatch) Set(key, value []byte) error {
	b.ops = append(b.ops, memoryOp{opSet, slices.Clone(key), slices.Clone(value)})
	return nil
}

func (b *memoryBatch) Merge(key, value []byte) error {
	b.ops = append(b.ops, memoryOp{opMerge, slices.Clone(key), slices.Clone(value)})
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memoryOp{kind: opDelete, key: slices.Clone(key)})
	return nil
}
