package indexer

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/container"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// checkValues verifies the value contract for every value of one input.
// Violations are logged and counted; indexing continues.
func (e *Engine[In, K, V]) checkValues(inputID uint32, data map[K]V) {
	for k, v := range data {
		if err := CheckValue(e.valueCodec, v); err != nil {
			e.metrics.ValueContractViolations.WithLabelValues(e.id).Inc()
			e.logger.Error("value contract violated",
				"index", e.id,
				"input_id", inputID,
				"key", fmt.Sprint(k),
				"error", err,
			)
		}
	}
}

// checkContainer logs a container that associates one input with two values.
func (e *Engine[In, K, V]) checkContainer(key K, c *container.ValueContainer[V]) bool {
	if err := c.Validate(); err != nil {
		e.logger.Error("inconsistent value container",
			"index", e.id,
			"key", fmt.Sprint(key),
			"error", err,
		)
		return false
	}
	return true
}

// CheckValue reports whether v equals itself, survives a codec round trip,
// and encodes to the same hash after the round trip.
func CheckValue[V comparable](vc codec.Codec[V], v V) error {
	if v != v {
		return fmt.Errorf("%w: value %v is not equal to itself", ixerrors.ErrValueContract, v)
	}
	saved, err := vc.Save(v)
	if err != nil {
		return fmt.Errorf("%w: saving %v: %v", ixerrors.ErrValueContract, v, err)
	}
	back, err := vc.Read(saved)
	if err != nil {
		return fmt.Errorf("%w: reading %v back: %v", ixerrors.ErrValueContract, v, err)
	}
	if back != v {
		return fmt.Errorf("%w: %v reads back as %v", ixerrors.ErrValueContract, v, back)
	}
	resaved, err := vc.Save(back)
	if err != nil {
		return fmt.Errorf("%w: saving %v again: %v", ixerrors.ErrValueContract, back, err)
	}
	if xxhash.Sum64(saved) != xxhash.Sum64(resaved) {
		return fmt.Errorf("%w: hash of %v changes across a round trip", ixerrors.ErrValueContract, v)
	}
	return nil
}
