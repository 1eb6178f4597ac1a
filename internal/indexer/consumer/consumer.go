// Package consumer feeds input change events from Kafka into an index engine
// and publishes the engine's modification events back to Kafka.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/indexer"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/kafka"
)

// InputEvent announces that an input's content changed or that the input is
// gone.
type InputEvent struct {
	InputID uint32 `json:"input_id"`
	Deleted bool   `json:"deleted"`
	Content string `json:"content"`
}

// Updater is the slice of an engine the consumer drives.
type Updater interface {
	ID() string
	UpdateAndApply(ctx context.Context, inputID uint32, input *string) error
}

// HandleMessage returns a Kafka MessageHandler that applies every input
// event to each updater in turn. Undecodable events and failures that already
// requested a rebuild are committed and skipped; cancellations are not
// committed.
func HandleMessage(updaters ...Updater) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[InputEvent](value)
		if err != nil {
			logger.Error("failed to decode input event", "error", err, "key", string(key))
			return fmt.Errorf("%w: %w", kafka.ErrSkip, err)
		}
		var content *string
		if !event.Deleted {
			content = &event.Content
		}
		var failed []error
		for _, u := range updaters {
			err := u.UpdateAndApply(ctx, event.InputID, content)
			switch {
			case err == nil:
				logger.Debug("input event applied", "index", u.ID(), "input_id", event.InputID, "deleted", event.Deleted)
			case ixerrors.IsCancellation(err):
				return err
			default:
				logger.Warn("input event failed", "index", u.ID(), "input_id", event.InputID, "error", err)
				failed = append(failed, fmt.Errorf("index %s: %w", u.ID(), err))
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("%w: input %d: %w", kafka.ErrSkip, event.InputID, errors.Join(failed...))
		}
		return nil
	}
}

// Publisher is the slice of a Kafka producer used for modification events.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// PublishModifications returns an engine OnModified callback that publishes
// each event keyed by index id, so one index's events stay ordered.
func PublishModifications(p Publisher, timeout time.Duration) func(indexer.ModificationEvent) {
	logger := slog.Default().With("component", "modification-publisher")
	return func(ev indexer.ModificationEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := p.Publish(ctx, kafka.Event{Key: ev.Index, Value: ev})
		if err != nil {
			logger.Warn("failed to publish modification event",
				"index", ev.Index,
				"input_id", ev.InputID,
				"error", err,
			)
		}
	}
}
