package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/config"
)

type event struct {
	InputID uint32 `json:"input_id"`
	Deleted bool   `json:"deleted"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[event]([]byte(`{"input_id":4,"deleted":true}`))
	require.NoError(t, err)
	assert.Equal(t, event{InputID: 4, Deleted: true}, got)

	_, err = DecodeJSON[event]([]byte(`{"input_id":"x"}`))
	assert.Error(t, err)
}

func TestPublishRejectsUnencodableValue(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "index-modified", false)
	defer p.Close()
	err := p.Publish(context.Background(), Event{Key: "words", Value: make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshaling event value")
}

func TestErrSkipWraps(t *testing.T) {
	err := errors.Join(ErrSkip, errors.New("bad payload"))
	assert.ErrorIs(t, err, ErrSkip)
}
