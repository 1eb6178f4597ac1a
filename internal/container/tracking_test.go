package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
)

func TestChangeTrackingDeltaReplaysToMergedState(t *testing.T) {
	base := New[string]()
	for id := uint32(1); id <= 10; id++ {
		base.AddValue(id, string(rune('a'+id%5)))
	}
	row, err := base.Save(nil, codec.String{})
	require.NoError(t, err)

	loaded := New[string]()
	require.NoError(t, loaded.Load(row, codec.String{}))
	tr := Track(loaded, true)
	assert.False(t, tr.Dirty())

	tr.RemoveAssociatedValue(3)
	tr.AddValue(3, "b")
	tr.AddValue(11, "a")
	tr.RemoveAssociatedValue(11)
	require.True(t, tr.Dirty())
	require.False(t, tr.PreferFull())

	row, err = tr.SaveDelta(row, codec.String{})
	require.NoError(t, err)
	tr.Committed(false)
	assert.False(t, tr.Dirty())

	replayed := New[string]()
	require.NoError(t, replayed.Load(row, codec.String{}))
	assert.True(t, replayed.Equal(tr.Container()))
	assert.True(t, replayed.NeedsCompaction())
	_, ok := replayed.ValueOf(11)
	assert.False(t, ok)
}

func TestChangeTrackingNewRowIsWrittenInFull(t *testing.T) {
	tr := Track(New[string](), false)
	assert.False(t, tr.Dirty())
	tr.AddValue(1, "a")
	assert.True(t, tr.Dirty())
	assert.True(t, tr.PreferFull())
	tr.Committed(true)
	assert.True(t, tr.Persisted())
	assert.False(t, tr.PreferFull())
}

func TestChangeTrackingCompactsAfterManyDeltas(t *testing.T) {
	base := New[string]()
	for id := uint32(0); id < 100; id++ {
		base.AddValue(id, "a")
	}
	tr := Track(base, true)
	for i := 0; i < MaxAppendedDeltas; i++ {
		tr.AddValue(uint32(1000+i), "a")
		require.False(t, tr.PreferFull(), "delta %d", i)
		tr.Committed(false)
	}
	tr.AddValue(5000, "a")
	assert.True(t, tr.PreferFull())
}
