package storage

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/container"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// PersistentStorage keeps containers as rows of a KV. Loaded rows live in an
// LRU cache; rows changed since the last flush are pinned in a dirty set and
// written either in full or as an appended delta.
type PersistentStorage[K comparable, V comparable] struct {
	kv         KV
	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]
	opts       Options
	logger     *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[K, *container.ChangeTracking[V]]
	dirty map[K]*container.ChangeTracking[V]
	loads singleflight.Group
}

func NewPersistentStorage[K comparable, V comparable](
	kv KV,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
	opts Options,
) (*PersistentStorage[K, V], error) {
	opts = opts.withDefaults()
	cache, err := lru.New[K, *container.ChangeTracking[V]](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating container cache: %w", err)
	}
	return &PersistentStorage[K, V]{
		kv:         kv,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		opts:       opts,
		logger:     slog.Default().With("component", "index-storage", "index", opts.Index),
		cache:      cache,
		dirty:      make(map[K]*container.ChangeTracking[V]),
	}, nil
}

func (s *PersistentStorage[K, V]) Read(key K) (*container.ValueContainer[V], error) {
	t, err := s.tracked(key)
	if err != nil {
		return nil, err
	}
	return t.Container(), nil
}

func (s *PersistentStorage[K, V]) AddValue(key K, inputID uint32, value V) error {
	t, err := s.tracked(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := t.Container()
	wasMulti := c.IsMulti()
	t.AddValue(inputID, value)
	c.Get(value).Normalize()
	if !wasMulti && c.IsMulti() {
		s.opts.Metrics.ContainerEscalationsTotal.WithLabelValues(s.opts.Index).Inc()
	}
	return s.markDirtyLocked(key, t)
}

func (s *PersistentStorage[K, V]) RemoveAllValues(key K, inputID uint32) error {
	t, err := s.tracked(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.RemoveAssociatedValue(inputID) {
		return nil
	}
	return s.markDirtyLocked(key, t)
}

func (s *PersistentStorage[K, V]) markDirtyLocked(key K, t *container.ChangeTracking[V]) error {
	s.dirty[key] = t
	if len(s.dirty) >= s.opts.MaxDirty {
		return s.flushLocked()
	}
	return nil
}

// tracked returns the cached row for key, loading it once even when several
// readers miss at the same time.
func (s *PersistentStorage[K, V]) tracked(key K) (*container.ChangeTracking[V], error) {
	s.mu.Lock()
	if t, ok := s.dirty[key]; ok {
		s.mu.Unlock()
		return t, nil
	}
	if t, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	kb, err := s.keyCodec.Save(key)
	if err != nil {
		return nil, fmt.Errorf("encoding key: %w", err)
	}
	v, err, _ := s.loads.Do(string(kb), func() (interface{}, error) {
		return s.load(key, kb)
	})
	if err != nil {
		return nil, err
	}
	return v.(*container.ChangeTracking[V]), nil
}

func (s *PersistentStorage[K, V]) load(key K, kb []byte) (*container.ChangeTracking[V], error) {
	row, found, err := s.kv.Get(kb)
	if err != nil {
		return nil, ixerrors.Storage(fmt.Errorf("reading row: %w", err))
	}
	c := container.New[V]()
	if found {
		if err := c.Load(row, s.valueCodec); err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
		}
	}
	t := container.Track(c, found)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.dirty[key]; ok {
		return cur, nil
	}
	if cur, ok := s.cache.Get(key); ok {
		return cur, nil
	}
	s.cache.Add(key, t)
	return t, nil
}

func (s *PersistentStorage[K, V]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *PersistentStorage[K, V]) flushLocked() error {
	if len(s.dirty) > 0 {
		full := make(map[K]bool, len(s.dirty))
		err := s.kv.Update(func(w Writer) error {
			for key, t := range s.dirty {
				isFull, err := s.writeRow(w, key, t)
				if err != nil {
					return err
				}
				full[key] = isFull
			}
			return nil
		})
		if err != nil {
			return ixerrors.Storage(fmt.Errorf("writing %d dirty rows: %w", len(s.dirty), err))
		}
		for key, t := range s.dirty {
			t.Committed(full[key])
			s.cache.Add(key, t)
		}
		s.logger.Debug("dirty rows written", "rows", len(s.dirty))
		clear(s.dirty)
	}
	if err := s.kv.Flush(); err != nil {
		return ixerrors.Storage(err)
	}
	return nil
}

func (s *PersistentStorage[K, V]) writeRow(w Writer, key K, t *container.ChangeTracking[V]) (bool, error) {
	kb, err := s.keyCodec.Save(key)
	if err != nil {
		return false, fmt.Errorf("encoding key: %w", err)
	}
	c := t.Container()
	if c.IsEmpty() {
		if !t.Persisted() {
			return true, nil
		}
		return true, w.Delete(kb)
	}
	if t.PreferFull() {
		row, err := c.Save(nil, s.valueCodec)
		if err != nil {
			return false, err
		}
		return true, w.Set(kb, row)
	}
	delta, err := t.SaveDelta(nil, s.valueCodec)
	if err != nil {
		return false, err
	}
	return false, w.Merge(kb, delta)
}

func (s *PersistentStorage[K, V]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.dirty)
	s.cache.Purge()
	if err := s.kv.Clear(); err != nil {
		return ixerrors.Storage(err)
	}
	return nil
}

// DropCaches empties the LRU. Dirty rows stay pinned until the next flush.
func (s *PersistentStorage[K, V]) DropCaches() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cache.Len()
	s.cache.Purge()
	s.logger.Debug("container cache dropped", "rows", n, "dirty", len(s.dirty))
	return nil
}

func (s *PersistentStorage[K, V]) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.kv.Close()
}
