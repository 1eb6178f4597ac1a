// Package indexer implements the incremental index engine. An Engine keeps a
// reverse index (key -> value container) and a forward snapshot store (input
// -> last indexed map) consistent under one read/write lock, and turns a new
// indexing result for an input into the minimal set of key-level changes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/container"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/storage"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
)

// Indexer maps one input to its key/value map. It runs without any engine
// lock held and must be safe for concurrent calls on different inputs.
type Indexer[In any, K comparable, V comparable] func(ctx context.Context, input In) (map[K]V, error)

// RebuildRequester is told when an index's data can no longer be trusted.
type RebuildRequester interface {
	RequestRebuild(index string, cause error)
}

// LowMemoryNotifier delivers process-wide memory pressure events.
type LowMemoryNotifier interface {
	Subscribe(fn func()) (unsubscribe func())
}

// ModificationEvent describes one applied update that changed the index.
type ModificationEvent struct {
	Index             string `json:"index"`
	InputID           uint32 `json:"input_id"`
	Changes           int    `json:"changes"`
	ModificationCount int64  `json:"modification_count"`
}

type Options[In any, K comparable, V comparable] struct {
	ID         string
	Indexer    Indexer[In, K, V]
	ValueCodec codec.Codec[V]
	Storage    storage.IndexStorage[K, V]
	Forward    forward.Index[K, V]
	Rebuild    RebuildRequester
	LowMemory  LowMemoryNotifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// DebugChecks enables the value contract check on every indexed value
	// and a consistency check on every container read.
	DebugChecks bool
	// OnModified is called after every update that changed at least one key,
	// outside the engine lock.
	OnModified func(ModificationEvent)
}

type Engine[In any, K comparable, V comparable] struct {
	id          string
	indexer     Indexer[In, K, V]
	valueCodec  codec.Codec[V]
	storage     storage.IndexStorage[K, V]
	forward     forward.Index[K, V]
	rebuild     RebuildRequester
	metrics     *metrics.Metrics
	logger      *slog.Logger
	debugChecks bool
	onModified  func(ModificationEvent)

	mu          sync.RWMutex
	disposed    bool
	unsubscribe func()

	modCount       atomic.Int64
	rebuildPending atomic.Bool
}

func NewEngine[In any, K comparable, V comparable](opts Options[In, K, V]) (*Engine[In, K, V], error) {
	switch {
	case opts.ID == "":
		return nil, fmt.Errorf("%w: engine id is required", ixerrors.ErrInvalidInput)
	case opts.Indexer == nil:
		return nil, fmt.Errorf("%w: index %s has no indexer", ixerrors.ErrInvalidInput, opts.ID)
	case opts.Storage == nil || opts.Forward == nil:
		return nil, fmt.Errorf("%w: index %s needs both reverse and forward storage", ixerrors.ErrInvalidInput, opts.ID)
	case opts.DebugChecks && opts.ValueCodec == nil:
		return nil, fmt.Errorf("%w: index %s enables debug checks without a value codec", ixerrors.ErrInvalidInput, opts.ID)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine[In, K, V]{
		id:          opts.ID,
		indexer:     opts.Indexer,
		valueCodec:  opts.ValueCodec,
		storage:     opts.Storage,
		forward:     opts.Forward,
		rebuild:     opts.Rebuild,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "index-engine"),
		debugChecks: opts.DebugChecks,
		onModified:  opts.OnModified,
	}
	if opts.LowMemory != nil {
		e.unsubscribe = opts.LowMemory.Subscribe(e.onLowMemory)
	}
	e.logger.Info("index engine ready", "index", e.id, "debug_checks", e.debugChecks)
	return e, nil
}

// ID returns the index id.
func (e *Engine[In, K, V]) ID() string {
	return e.id
}

// ModificationCount returns a counter that grows by one for every key-level
// change applied to the index. Consumers compare it to detect staleness.
func (e *Engine[In, K, V]) ModificationCount() int64 {
	return e.modCount.Load()
}

// GetData returns a copy of the container stored under key. After Dispose it
// returns an empty container without touching storage.
func (e *Engine[In, K, V]) GetData(key K) (*container.ValueContainer[V], error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.disposed {
		return container.New[V](), nil
	}
	c, err := e.storage.Read(key)
	if err != nil {
		return nil, ixerrors.New(e.id, "get data", err)
	}
	e.metrics.LookupsTotal.WithLabelValues(e.id).Inc()
	if e.debugChecks {
		e.checkContainer(key, c)
	}
	return c.Clone(), nil
}

// Clear empties both stores.
func (e *Engine[In, K, V]) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ixerrors.New(e.id, "clear", ixerrors.ErrDisposed)
	}
	err := errors.Join(e.storage.Clear(), e.forward.Clear())
	e.bumpModCount(1)
	if err != nil {
		return ixerrors.New(e.id, "clear", err)
	}
	e.logger.Info("index cleared", "index", e.id)
	return nil
}

// Flush syncs both stores. It holds only the read lock, so lookups proceed
// while it runs; the stores serialize flushing against their own buffers.
func (e *Engine[In, K, V]) Flush() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.disposed {
		return nil
	}
	return e.flushRLocked()
}

func (e *Engine[In, K, V]) flushRLocked() error {
	start := time.Now()
	err := errors.Join(e.storage.Flush(), e.forward.Flush())
	e.metrics.FlushDuration.WithLabelValues(e.id).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.FlushesTotal.WithLabelValues(e.id, "error").Inc()
		wrapped := ixerrors.New(e.id, "flush", err)
		if !ixerrors.IsCancellation(err) {
			e.requestRebuild(wrapped)
		}
		return wrapped
	}
	e.metrics.FlushesTotal.WithLabelValues(e.id, "ok").Inc()
	return nil
}

// Dispose closes both stores. Later calls are no-ops.
func (e *Engine[In, K, V]) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if err := errors.Join(e.storage.Close(), e.forward.Close()); err != nil {
		return ixerrors.New(e.id, "dispose", err)
	}
	e.logger.Info("index disposed", "index", e.id, "modification_count", e.modCount.Load())
	return nil
}

// Disposed reports whether Dispose has run.
func (e *Engine[In, K, V]) Disposed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.disposed
}

// RebuildPending reports whether a rebuild was requested since the last
// MarkRebuilt.
func (e *Engine[In, K, V]) RebuildPending() bool {
	return e.rebuildPending.Load()
}

// MarkRebuilt clears the pending rebuild flag once the owner has regenerated
// the index.
func (e *Engine[In, K, V]) MarkRebuilt() {
	e.rebuildPending.Store(false)
}

func (e *Engine[In, K, V]) onLowMemory() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.disposed {
		return
	}
	if err := e.storage.DropCaches(); err != nil {
		e.logger.Warn("dropping caches failed", "index", e.id, "error", err)
	}
	e.metrics.CacheDropsTotal.WithLabelValues(e.id).Inc()
	if err := e.flushRLocked(); err != nil {
		e.logger.Error("flush on low memory failed", "index", e.id, "error", err)
	}
}

func (e *Engine[In, K, V]) requestRebuild(cause error) {
	e.rebuildPending.Store(true)
	e.metrics.RebuildRequestsTotal.WithLabelValues(e.id).Inc()
	e.logger.Error("index data is inconsistent, rebuild requested", "index", e.id, "error", cause)
	if e.rebuild != nil {
		e.rebuild.RequestRebuild(e.id, cause)
	}
}

func (e *Engine[In, K, V]) bumpModCount(n int) int64 {
	v := e.modCount.Add(int64(n))
	e.metrics.ModificationCount.WithLabelValues(e.id).Set(float64(v))
	return v
}
