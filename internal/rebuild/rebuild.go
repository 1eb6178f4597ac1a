// Package rebuild records that an index's data is no longer trustworthy and
// must be regenerated. Requests come from engine failure paths, so every
// requester returns immediately and never blocks the caller on I/O.
package rebuild

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/resilience"
)

// LogRequester logs each request and remembers which indexes have one open.
type LogRequester struct {
	mu      sync.Mutex
	pending map[string]string
	logger  *slog.Logger
}

func NewLogRequester() *LogRequester {
	return &LogRequester{
		pending: make(map[string]string),
		logger:  slog.Default().With("component", "rebuild"),
	}
}

func (r *LogRequester) RequestRebuild(index string, cause error) {
	r.mu.Lock()
	r.pending[index] = cause.Error()
	r.mu.Unlock()
	r.logger.Error("index rebuild requested", "index", index, "cause", cause)
}

// Pending returns the indexes with an open request, sorted.
func (r *LogRequester) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.pending))
}

// Resolve closes the open request of index.
func (r *LogRequester) Resolve(index string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, index)
}

// Recorder persists rebuild requests.
type Recorder interface {
	RecordRebuild(ctx context.Context, index, reason string) error
}

type request struct {
	index  string
	reason string
}

// PostgresRequester hands requests to a background worker that records them
// through a Recorder with retries. When the queue is full the request is
// dropped with an error log; the local LogRequester still has it.
type PostgresRequester struct {
	*LogRequester
	recorder Recorder
	queue    chan request
	retry    resilience.RetryConfig
	timeout  time.Duration
}

func NewPostgresRequester(recorder Recorder, queueSize int, retry resilience.RetryConfig) *PostgresRequester {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &PostgresRequester{
		LogRequester: NewLogRequester(),
		recorder:     recorder,
		queue:        make(chan request, queueSize),
		retry:        retry,
		timeout:      5 * time.Second,
	}
}

func (r *PostgresRequester) RequestRebuild(index string, cause error) {
	r.LogRequester.RequestRebuild(index, cause)
	select {
	case r.queue <- request{index: index, reason: cause.Error()}:
	default:
		r.logger.Error("rebuild queue full, request not persisted", "index", index)
	}
}

// Run records queued requests until ctx is done, then drains what is left
// with a fresh deadline.
func (r *PostgresRequester) Run(ctx context.Context) {
	for {
		select {
		case req := <-r.queue:
			r.record(ctx, req)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			for {
				select {
				case req := <-r.queue:
					r.record(drainCtx, req)
				default:
					return
				}
			}
		}
	}
}

func (r *PostgresRequester) record(ctx context.Context, req request) {
	err := resilience.Retry(ctx, "record-rebuild", r.retry, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.recorder.RecordRebuild(attemptCtx, req.index, req.reason)
	})
	if err != nil {
		r.logger.Error("failed to persist rebuild request", "index", req.index, "error", err)
		return
	}
	r.logger.Info("rebuild request persisted", "index", req.index)
}
