package indexer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Input pairs an input id with its content. A nil Value deletes the input.
type Input[In any] struct {
	ID    uint32
	Value *In
}

// IndexAll indexes inputs with up to concurrency indexer calls in flight.
// Applies are serialized by the engine lock. The first failure cancels the
// remaining work; the count of applied updates is returned either way.
func (e *Engine[In, K, V]) IndexAll(ctx context.Context, inputs []Input[In], concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	var applied atomic.Int64
	for _, in := range inputs {
		g.Go(func() error {
			u, err := e.Update(gctx, in.ID, in.Value)
			if err != nil {
				return err
			}
			if err := u.Apply(); err != nil {
				return err
			}
			applied.Add(1)
			return nil
		})
	}
	err := g.Wait()
	n := int(applied.Load())
	if err != nil {
		return n, fmt.Errorf("bulk indexing into %s: %w", e.id, err)
	}
	e.logger.Info("bulk indexing complete",
		"index", e.id,
		"inputs", len(inputs),
		"concurrency", concurrency,
		"duration", time.Since(start),
	)
	return n, nil
}
