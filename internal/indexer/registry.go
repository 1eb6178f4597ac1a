package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Managed is the type-erased view of an Engine that owners of many indexes
// work with.
type Managed interface {
	ID() string
	Flush() error
	Dispose() error
	Disposed() bool
	RebuildPending() bool
	ModificationCount() int64
}

// Registry holds a named set of engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Managed
	logger  *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Managed),
		logger:  slog.Default().With("component", "index-registry"),
	}
}

// Register adds m under its id. Ids must be unique.
func (r *Registry) Register(m Managed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[m.ID()]; ok {
		return fmt.Errorf("index %s already registered", m.ID())
	}
	r.engines[m.ID()] = m
	r.logger.Info("index registered", "index", m.ID(), "indexes", len(r.engines))
	return nil
}

// Get returns the engine registered under id.
func (r *Registry) Get(id string) (Managed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.engines[id]
	return m, ok
}

// All returns the registered engines ordered by id.
func (r *Registry) All() []Managed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(r.engines))
	out := make([]Managed, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.engines[id])
	}
	return out
}

// FlushAll flushes every engine and returns the first failure.
func (r *Registry) FlushAll() error {
	var firstErr error
	for _, m := range r.All() {
		if err := m.Flush(); err != nil {
			r.logger.Error("flush failed", "index", m.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StartFlushLoop flushes every engine each interval until ctx is done, then
// flushes once more. The returned channel closes after that final flush.
func (r *Registry) StartFlushLoop(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("flush loop stopping, performing final flush")
				if err := r.FlushAll(); err != nil {
					r.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := r.FlushAll(); err != nil {
					r.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
	return done
}

// DisposeAll disposes every engine and forgets them.
func (r *Registry) DisposeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, m := range r.engines {
		if err := m.Dispose(); err != nil {
			r.logger.Error("dispose failed", "index", id, "error", err)
			errs = append(errs, err)
		}
	}
	clear(r.engines)
	return errors.Join(errs...)
}
