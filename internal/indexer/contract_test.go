package indexer

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/container"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/storage"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
)

// truncating keeps only the first three bytes of a string.
type truncating struct{}

func (truncating) Save(v string) ([]byte, error) {
	if len(v) > 3 {
		v = v[:3]
	}
	return []byte(v), nil
}

func (truncating) Read(b []byte) (string, error) { return string(b), nil }

type float64Codec struct{}

func (float64Codec) Save(v float64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)), nil
}

func (float64Codec) Read(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, errors.New("want 8 bytes")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func TestCheckValue(t *testing.T) {
	assert.NoError(t, CheckValue[string](codec.String{}, "anything"))
	assert.NoError(t, CheckValue[string](truncating{}, "abc"))
	assert.NoError(t, CheckValue[float64](float64Codec{}, 1.5))

	assert.ErrorIs(t, CheckValue[string](truncating{}, "abcdef"), ixerrors.ErrValueContract)
	assert.ErrorIs(t, CheckValue[float64](float64Codec{}, math.NaN()), ixerrors.ErrValueContract)
	assert.NoError(t, CheckValue[uint32](codec.Uint32{}, 7))
}

func TestDebugChecksCountViolations(t *testing.T) {
	m := metrics.Noop()
	e, err := NewEngine(Options[doc, string, string]{
		ID:          "lossy",
		Indexer:     identity,
		ValueCodec:  truncating{},
		Storage:     storage.NewMemoryStorage[string, string](storage.Options{}),
		Forward:     forward.NewMapIndex[string, string](storage.NewMemoryKV(), codec.String{}, codec.String{}),
		Metrics:     m,
		DebugChecks: true,
	})
	require.NoError(t, err)
	defer e.Dispose()

	in := doc{"ok": "abc", "bad": "abcdef"}
	require.NoError(t, e.UpdateAndApply(context.Background(), 1, &in))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValueContractViolations.WithLabelValues("lossy")))

	c, err := e.GetData("bad")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, c.Get("abcdef").Slice(), "violations are reported, not fatal")
}

func TestCheckContainer(t *testing.T) {
	f := newMemoryFixture(t)
	c := container.New[string]()
	c.AddValue(5, "a")
	assert.True(t, f.engine.checkContainer("k", c))
	c.AddValue(5, "b")
	assert.False(t, f.engine.checkContainer("k", c))
}
