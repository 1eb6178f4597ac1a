// Package lowmem raises a process-wide event when the live heap crosses a
// configured threshold. Subscribers run on the watcher goroutine, one after
// another, and should return quickly.
package lowmem

import (
	"context"
	"log/slog"
	"runtime/metrics"
	"sync"
	"time"

	ixmetrics "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
)

const heapSample = "/memory/classes/heap/objects:bytes"

// HeapReader returns the current live heap size in bytes.
type HeapReader func() uint64

// RuntimeHeap reads the live heap from runtime/metrics.
func RuntimeHeap() uint64 {
	s := []metrics.Sample{{Name: heapSample}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}

type Watcher struct {
	threshold uint64
	interval  time.Duration
	heap      HeapReader
	metrics   *ixmetrics.Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[int]func()
	nextID int
	armed  bool
}

// NewWatcher fires once each time the heap rises above threshold bytes and
// re-arms when it falls back below. A nil heap reader uses RuntimeHeap.
func NewWatcher(threshold uint64, interval time.Duration, heap HeapReader, m *ixmetrics.Metrics) *Watcher {
	if heap == nil {
		heap = RuntimeHeap
	}
	if m == nil {
		m = ixmetrics.Noop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		threshold: threshold,
		interval:  interval,
		heap:      heap,
		metrics:   m,
		logger:    slog.Default().With("component", "lowmem"),
		subs:      make(map[int]func()),
		armed:     true,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (w *Watcher) Subscribe(fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Start polls the heap until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Check()
			}
		}
	}()
}

// Check samples the heap once and notifies subscribers on an upward
// crossing. It reports whether subscribers were notified.
func (w *Watcher) Check() bool {
	if w.threshold == 0 {
		return false
	}
	heap := w.heap()
	w.mu.Lock()
	if heap < w.threshold {
		w.armed = true
		w.mu.Unlock()
		return false
	}
	if !w.armed {
		w.mu.Unlock()
		return false
	}
	w.armed = false
	w.mu.Unlock()

	w.logger.Warn("heap above threshold, releasing caches", "heap_bytes", heap, "threshold_bytes", w.threshold)
	w.Notify()
	return true
}

// Notify runs every subscriber regardless of heap size.
func (w *Watcher) Notify() {
	w.mu.Lock()
	fns := make([]func(), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	w.metrics.LowMemoryEventsTotal.Inc()
	for _, fn := range fns {
		fn()
	}
}
