package indexer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManaged struct {
	id       string
	flushErr error
	flushes  atomic.Int32
	disposed atomic.Bool
}

func (f *fakeManaged) ID() string { return f.id }

func (f *fakeManaged) Flush() error {
	f.flushes.Add(1)
	return f.flushErr
}

func (f *fakeManaged) Dispose() error {
	f.disposed.Store(true)
	return nil
}

func (f *fakeManaged) Disposed() bool           { return f.disposed.Load() }
func (f *fakeManaged) RebuildPending() bool     { return false }
func (f *fakeManaged) ModificationCount() int64 { return 0 }

func TestRegistryRegisterAndAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeManaged{id: "words"}))
	require.NoError(t, r.Register(&fakeManaged{id: "sizes"}))
	assert.Error(t, r.Register(&fakeManaged{id: "words"}))

	var ids []string
	for _, m := range r.All() {
		ids = append(ids, m.ID())
	}
	assert.Equal(t, []string{"sizes", "words"}, ids)

	m, ok := r.Get("words")
	require.True(t, ok)
	assert.Equal(t, "words", m.ID())
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryFlushAllContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeManaged{id: "a", flushErr: boom}
	b := &fakeManaged{id: "b"}
	r := NewRegistry()
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	assert.ErrorIs(t, r.FlushAll(), boom)
	assert.EqualValues(t, 1, a.flushes.Load())
	assert.EqualValues(t, 1, b.flushes.Load())
}

func TestRegistryDisposeAll(t *testing.T) {
	a := &fakeManaged{id: "a"}
	r := NewRegistry()
	require.NoError(t, r.Register(a))
	require.NoError(t, r.DisposeAll())
	assert.True(t, a.Disposed())
	assert.Empty(t, r.All())
}

func TestRegistryFlushLoopFinalFlush(t *testing.T) {
	a := &fakeManaged{id: "a"}
	r := NewRegistry()
	require.NoError(t, r.Register(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := r.StartFlushLoop(ctx, time.Millisecond)
	require.Eventually(t, func() bool { return a.flushes.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush loop did not stop")
	}
	stopped := a.flushes.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, stopped, a.flushes.Load())
}
