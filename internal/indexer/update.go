package indexer

import (
	"context"
	"sync/atomic"

	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// UpdateData is the result of indexing one input, ready to be applied.
type UpdateData[K comparable, V comparable] struct {
	inputID uint32
	data    map[K]V
	apply   func(*UpdateData[K, V]) error
	applied atomic.Bool
}

// InputID returns the input the update belongs to.
func (u *UpdateData[K, V]) InputID() uint32 {
	return u.inputID
}

// Data returns the new key/value map. An empty map deletes the input.
func (u *UpdateData[K, V]) Data() map[K]V {
	return u.data
}

// Apply writes the update into the index under the write lock. It may be
// called once; later calls return ErrAlreadyApplied.
func (u *UpdateData[K, V]) Apply() error {
	if !u.applied.CompareAndSwap(false, true) {
		return ixerrors.ErrAlreadyApplied
	}
	return u.apply(u)
}

// Update runs the indexer over input without taking any lock and returns the
// pending change. A nil input removes everything inputID contributed.
// Cancellation of ctx is returned unchanged.
func (e *Engine[In, K, V]) Update(ctx context.Context, inputID uint32, input *In) (*UpdateData[K, V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data map[K]V
	if input != nil {
		var err error
		data, err = e.indexer(ctx, *input)
		if err != nil {
			if ixerrors.IsCancellation(err) {
				return nil, err
			}
			return nil, ixerrors.ForInput(e.id, "index", inputID, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if e.debugChecks {
		e.checkValues(inputID, data)
	}
	return &UpdateData[K, V]{inputID: inputID, data: data, apply: e.applyUpdate}, nil
}

// UpdateAndApply runs both phases for one input.
func (e *Engine[In, K, V]) UpdateAndApply(ctx context.Context, inputID uint32, input *In) error {
	u, err := e.Update(ctx, inputID, input)
	if err != nil {
		return err
	}
	return u.Apply()
}

func (e *Engine[In, K, V]) applyUpdate(u *UpdateData[K, V]) error {
	e.mu.Lock()
	changes, err := e.applyLocked(u.inputID, u.data)
	e.mu.Unlock()

	switch {
	case err == nil:
	case ixerrors.Is(err, ixerrors.ErrDisposed):
		e.metrics.UpdatesTotal.WithLabelValues(e.id, "failed").Inc()
		return ixerrors.ForInput(e.id, "apply", u.inputID, err)
	case ixerrors.IsCancellation(err):
		e.metrics.UpdatesTotal.WithLabelValues(e.id, "canceled").Inc()
		return err
	default:
		e.metrics.UpdatesTotal.WithLabelValues(e.id, "failed").Inc()
		wrapped := ixerrors.ForInput(e.id, "apply", u.inputID, err)
		e.requestRebuild(wrapped)
		return wrapped
	}

	if changes == 0 {
		e.metrics.UpdatesTotal.WithLabelValues(e.id, "unchanged").Inc()
		return nil
	}
	e.metrics.UpdatesTotal.WithLabelValues(e.id, "changed").Inc()
	e.logger.Debug("update applied", "index", e.id, "input_id", u.inputID, "changes", changes)
	if e.onModified != nil {
		e.onModified(ModificationEvent{
			Index:             e.id,
			InputID:           u.inputID,
			Changes:           changes,
			ModificationCount: e.modCount.Load(),
		})
	}
	return nil
}

// applyLocked diffs data against the stored snapshot and applies every
// key-level change. A failure midway leaves the reverse index partially
// updated for this input; recovery is the rebuild requester's job.
func (e *Engine[In, K, V]) applyLocked(inputID uint32, data map[K]V) (int, error) {
	if e.disposed {
		return 0, ixerrors.ErrDisposed
	}
	diff, err := e.forward.DiffBuilder(inputID)
	if err != nil {
		return 0, err
	}
	var added, updated, removed int
	changed, err := diff.Differentiate(data,
		func(k K, v V) error {
			if err := e.storage.AddValue(k, inputID, v); err != nil {
				return err
			}
			added++
			e.bumpModCount(1)
			return nil
		},
		func(k K, v V) error {
			if err := e.storage.RemoveAllValues(k, inputID); err != nil {
				return err
			}
			if err := e.storage.AddValue(k, inputID, v); err != nil {
				return err
			}
			updated++
			e.bumpModCount(1)
			return nil
		},
		func(k K) error {
			if err := e.storage.RemoveAllValues(k, inputID); err != nil {
				return err
			}
			removed++
			e.bumpModCount(1)
			return nil
		},
	)
	e.countKeyChanges(added, updated, removed)
	if err != nil {
		return added + updated + removed, err
	}
	if changed {
		if err := e.forward.Put(inputID, data); err != nil {
			return added + updated + removed, err
		}
	}
	return added + updated + removed, nil
}

func (e *Engine[In, K, V]) countKeyChanges(added, updated, removed int) {
	for kind, n := range map[string]int{"added": added, "updated": updated, "removed": removed} {
		if n > 0 {
			e.metrics.KeyChangesTotal.WithLabelValues(e.id, kind).Add(float64(n))
		}
	}
}
