package storage

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/container"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
)

// IndexStorage is the reverse index: key -> value container rows.
//
// Read may run concurrently with Read, Flush, and DropCaches. The mutating
// methods are serialized by the owning engine. Containers returned by Read
// are owned by the storage and must not be mutated.
type IndexStorage[K comparable, V comparable] interface {
	Read(key K) (*container.ValueContainer[V], error)
	AddValue(key K, inputID uint32, value V) error
	RemoveAllValues(key K, inputID uint32) error
	Flush() error
	Clear() error
	Close() error
	// DropCaches releases clean cached rows.
	DropCaches() error
}

// Options configures a storage instance.
type Options struct {
	// Index names the owning index in logs and metrics.
	Index     string
	Metrics   *metrics.Metrics
	CacheSize int
	// MaxDirty forces a write-through once this many rows are dirty.
	MaxDirty int
}

func (o Options) withDefaults() Options {
	if o.Metrics == nil {
		o.Metrics = metrics.Noop()
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 16384
	}
	if o.MaxDirty <= 0 {
		o.MaxDirty = 4096
	}
	return o
}

// MemoryStorage keeps every container in a map.
type MemoryStorage[K comparable, V comparable] struct {
	mu   sync.RWMutex
	rows map[K]*container.ValueContainer[V]
	opts Options
}

func NewMemoryStorage[K comparable, V comparable](opts Options) *MemoryStorage[K, V] {
	return &MemoryStorage[K, V]{
		rows: make(map[K]*container.ValueContainer[V]),
		opts: opts.withDefaults(),
	}
}

func (s *MemoryStorage[K, V]) Read(key K) (*container.ValueContainer[V], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.rows[key]; ok {
		return c, nil
	}
	return container.New[V](), nil
}

func (s *MemoryStorage[K, V]) AddValue(key K, inputID uint32, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[key]
	if !ok {
		c = container.New[V]()
		s.rows[key] = c
	}
	wasMulti := c.IsMulti()
	c.AddValue(inputID, value)
	c.Get(value).Normalize()
	if !wasMulti && c.IsMulti() {
		s.opts.Metrics.ContainerEscalationsTotal.WithLabelValues(s.opts.Index).Inc()
	}
	return nil
}

func (s *MemoryStorage[K, V]) RemoveAllValues(key K, inputID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[key]
	if !ok {
		return nil
	}
	c.RemoveAssociatedValue(inputID)
	if c.IsEmpty() {
		delete(s.rows, key)
	}
	return nil
}

// Len returns the number of non-empty keys.
func (s *MemoryStorage[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStorage[K, V]) Flush() error { return nil }

func (s *MemoryStorage[K, V]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.rows)
	return nil
}

func (s *MemoryStorage[K, V]) Close() error { return nil }

func (s *MemoryStorage[K, V]) DropCaches() error { return nil }
