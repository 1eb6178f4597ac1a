package indexer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/storage"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
)

type doc = map[string]string

func identity(_ context.Context, in doc) (map[string]string, error) {
	return maps.Clone(in), nil
}

type recordingRebuild struct {
	mu     sync.Mutex
	causes []error
}

func (r *recordingRebuild) RequestRebuild(_ string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causes = append(r.causes, cause)
}

func (r *recordingRebuild) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.causes)
}

// faultyStorage fails AddValue for one key and counts cache drops.
type faultyStorage struct {
	storage.IndexStorage[string, string]
	poison  string
	failErr error
	drops   atomic.Int32
	flushes atomic.Int32
}

func (f *faultyStorage) AddValue(key string, id uint32, v string) error {
	if key == f.poison {
		return f.failErr
	}
	return f.IndexStorage.AddValue(key, id, v)
}

func (f *faultyStorage) DropCaches() error {
	f.drops.Add(1)
	return f.IndexStorage.DropCaches()
}

func (f *faultyStorage) Flush() error {
	f.flushes.Add(1)
	return f.IndexStorage.Flush()
}

type fakeNotifier struct {
	mu  sync.Mutex
	fns map[int]func()
	seq int
}

func (n *fakeNotifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fns == nil {
		n.fns = make(map[int]func())
	}
	n.seq++
	id := n.seq
	n.fns[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.fns, id)
	}
}

func (n *fakeNotifier) fire() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.fns))
	for _, fn := range n.fns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fixture struct {
	engine  *Engine[doc, string, string]
	storage *faultyStorage
	rebuild *recordingRebuild
	notify  *fakeNotifier
	metrics *metrics.Metrics
	events  chan ModificationEvent
}

func newFixture(t *testing.T, reverse storage.IndexStorage[string, string], fwd forward.Index[string, string]) *fixture {
	t.Helper()
	f := &fixture{
		storage: &faultyStorage{IndexStorage: reverse, poison: "poison", failErr: ixerrors.Storage(errors.New("disk full"))},
		rebuild: &recordingRebuild{},
		notify:  &fakeNotifier{},
		metrics: metrics.Noop(),
		events:  make(chan ModificationEvent, 64),
	}
	e, err := NewEngine(Options[doc, string, string]{
		ID:          "test",
		Indexer:     identity,
		ValueCodec:  codec.String{},
		Storage:     f.storage,
		Forward:     fwd,
		Rebuild:     f.rebuild,
		LowMemory:   f.notify,
		Metrics:     f.metrics,
		DebugChecks: true,
		OnModified: func(ev ModificationEvent) {
			select {
			case f.events <- ev:
			default:
			}
		},
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t,
		storage.NewMemoryStorage[string, string](storage.Options{Index: "test"}),
		forward.NewMapIndex[string, string](storage.NewMemoryKV(), codec.String{}, codec.String{}),
	)
}

func newPebbleFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	reverse, err := storage.NewPersistentStorage[string, string](db.Namespace("r/"), codec.String{}, codec.String{}, storage.Options{Index: "test", CacheSize: 4})
	require.NoError(t, err)
	return newFixture(t, reverse, forward.NewMapIndex[string, string](db.Namespace("f/"), codec.String{}, codec.String{}))
}

func (f *fixture) apply(t *testing.T, id uint32, in doc) {
	t.Helper()
	var p *doc
	if in != nil {
		p = &in
	}
	require.NoError(t, f.engine.UpdateAndApply(context.Background(), id, p))
}

func (f *fixture) ids(t *testing.T, key, value string) []uint32 {
	t.Helper()
	c, err := f.engine.GetData(key)
	require.NoError(t, err)
	ids := c.Get(value)
	if ids == nil {
		return nil
	}
	return ids.Slice()
}

func TestEngineConcreteScenario(t *testing.T) {
	for name, mk := range map[string]func(*testing.T) *fixture{
		"memory": newMemoryFixture,
		"pebble": newPebbleFixture,
	} {
		t.Run(name, func(t *testing.T) {
			f := mk(t)
			f.apply(t, 1, doc{"foo": "v1"})
			f.apply(t, 2, doc{"foo": "v1", "bar": "v2"})

			assert.Equal(t, []uint32{1, 2}, f.ids(t, "foo", "v1"))
			assert.Equal(t, []uint32{2}, f.ids(t, "bar", "v2"))
			assert.EqualValues(t, 3, f.engine.ModificationCount())

			f.apply(t, 2, nil)
			bar, err := f.engine.GetData("bar")
			require.NoError(t, err)
			assert.True(t, bar.IsEmpty())
			assert.Equal(t, []uint32{1}, f.ids(t, "foo", "v1"))
			assert.EqualValues(t, 5, f.engine.ModificationCount())

			require.NoError(t, f.engine.Flush())
			require.NoError(t, f.engine.Dispose())
		})
	}
}

func TestEngineUpdateSupersedes(t *testing.T) {
	f := newPebbleFixture(t)
	f.apply(t, 7, doc{"a": "1", "b": "2", "c": "3"})
	f.apply(t, 7, doc{"b": "2", "c": "30", "d": "4"})

	a, err := f.engine.GetData("a")
	require.NoError(t, err)
	assert.True(t, a.IsEmpty())
	assert.Equal(t, []uint32{7}, f.ids(t, "b", "2"))
	assert.Nil(t, f.ids(t, "c", "3"))
	assert.Equal(t, []uint32{7}, f.ids(t, "c", "30"))
	assert.Equal(t, []uint32{7}, f.ids(t, "d", "4"))
	// 3 adds, then removed a, updated c, added d.
	assert.EqualValues(t, 6, f.engine.ModificationCount())
}

func TestEngineUnchangedUpdateIsQuiet(t *testing.T) {
	f := newMemoryFixture(t)
	f.apply(t, 1, doc{"k": "v"})
	<-f.events
	f.apply(t, 1, doc{"k": "v"})
	assert.EqualValues(t, 1, f.engine.ModificationCount())
	assert.Empty(t, f.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UpdatesTotal.WithLabelValues("test", "unchanged")))
}

func TestEngineModificationEvents(t *testing.T) {
	f := newMemoryFixture(t)
	f.apply(t, 4, doc{"x": "1", "y": "2"})
	ev := <-f.events
	assert.Equal(t, ModificationEvent{Index: "test", InputID: 4, Changes: 2, ModificationCount: 2}, ev)
}

func TestEngineApplyOnlyOnce(t *testing.T) {
	f := newMemoryFixture(t)
	in := doc{"k": "v"}
	u, err := f.engine.Update(context.Background(), 1, &in)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), u.InputID())
	assert.Equal(t, in, u.Data())
	require.NoError(t, u.Apply())
	assert.ErrorIs(t, u.Apply(), ixerrors.ErrAlreadyApplied)
	assert.EqualValues(t, 1, f.engine.ModificationCount())
}

func TestEngineStorageFailureRequestsRebuild(t *testing.T) {
	f := newMemoryFixture(t)
	in := doc{"poison": "x"}
	err := f.engine.UpdateAndApply(context.Background(), 3, &in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ixerrors.ErrStorage)

	var ie *ixerrors.IndexError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "test", ie.Index)
	assert.Equal(t, uint32(3), ie.InputID)

	assert.Equal(t, 1, f.rebuild.count())
	assert.True(t, f.engine.RebuildPending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RebuildRequestsTotal.WithLabelValues("test")))
	f.engine.MarkRebuilt()
	assert.False(t, f.engine.RebuildPending())
}

func TestEngineCancellationSkipsRebuild(t *testing.T) {
	t.Run("before indexing", func(t *testing.T) {
		f := newMemoryFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		in := doc{"k": "v"}
		_, err := f.engine.Update(ctx, 1, &in)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, f.rebuild.count())
	})

	t.Run("inside indexer", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		e, err := NewEngine(Options[doc, string, string]{
			ID: "cancel",
			Indexer: func(ctx context.Context, in doc) (map[string]string, error) {
				cancel()
				return nil, ctx.Err()
			},
			Storage: storage.NewMemoryStorage[string, string](storage.Options{}),
			Forward: forward.NewMapIndex[string, string](storage.NewMemoryKV(), codec.String{}, codec.String{}),
		})
		require.NoError(t, err)
		in := doc{}
		_, err = e.Update(ctx, 1, &in)
		assert.Equal(t, context.Canceled, err)
		assert.False(t, e.RebuildPending())
	})

	t.Run("during apply", func(t *testing.T) {
		f := newMemoryFixture(t)
		f.storage.failErr = fmt.Errorf("aborted: %w", context.Canceled)
		in := doc{"poison": "x"}
		err := f.engine.UpdateAndApply(context.Background(), 1, &in)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, f.rebuild.count())
		assert.Zero(t, f.engine.ModificationCount())
	})
}

func TestEngineIndexerErrorIsWrapped(t *testing.T) {
	boom := errors.New("parse error")
	e, err := NewEngine(Options[doc, string, string]{
		ID:      "broken",
		Indexer: func(context.Context, doc) (map[string]string, error) { return nil, boom },
		Storage: storage.NewMemoryStorage[string, string](storage.Options{}),
		Forward: forward.NewMapIndex[string, string](storage.NewMemoryKV(), codec.String{}, codec.String{}),
	})
	require.NoError(t, err)
	in := doc{}
	_, err = e.Update(context.Background(), 9, &in)
	assert.ErrorIs(t, err, boom)
	assert.False(t, e.RebuildPending())
}

func TestEngineDisposed(t *testing.T) {
	f := newMemoryFixture(t)
	f.apply(t, 1, doc{"k": "v"})
	require.NoError(t, f.engine.Dispose())
	require.NoError(t, f.engine.Dispose())
	assert.True(t, f.engine.Disposed())

	c, err := f.engine.GetData("k")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	in := doc{"k": "w"}
	err = f.engine.UpdateAndApply(context.Background(), 2, &in)
	assert.ErrorIs(t, err, ixerrors.ErrDisposed)
	assert.Zero(t, f.rebuild.count())
	assert.NoError(t, f.engine.Flush())
	assert.ErrorIs(t, f.engine.Clear(), ixerrors.ErrDisposed)

	f.notify.fire()
	assert.Zero(t, f.storage.drops.Load())
}

func TestEngineClear(t *testing.T) {
	f := newPebbleFixture(t)
	f.apply(t, 1, doc{"k": "v"})
	require.NoError(t, f.engine.Clear())
	c, err := f.engine.GetData("k")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	// The snapshot is gone too, so re-adding counts as a fresh add.
	f.apply(t, 1, doc{"k": "v"})
	assert.Equal(t, []uint32{1}, f.ids(t, "k", "v"))
}

func TestEngineLowMemoryDropsCachesAndFlushes(t *testing.T) {
	f := newPebbleFixture(t)
	f.apply(t, 1, doc{"k": "v"})
	f.notify.fire()
	assert.EqualValues(t, 1, f.storage.drops.Load())
	assert.EqualValues(t, 1, f.storage.flushes.Load())
	assert.Equal(t, []uint32{1}, f.ids(t, "k", "v"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheDropsTotal.WithLabelValues("test")))
}

func TestEngineGetDataReturnsCopy(t *testing.T) {
	f := newMemoryFixture(t)
	f.apply(t, 1, doc{"k": "v"})
	c, err := f.engine.GetData("k")
	require.NoError(t, err)
	c.AddValue(99, "v")
	assert.Equal(t, []uint32{1}, f.ids(t, "k", "v"))
}

func TestEngineConcurrentReadsDuringFlush(t *testing.T) {
	f := newPebbleFixture(t)
	for id := uint32(1); id <= 200; id++ {
		f.apply(t, id, doc{fmt.Sprintf("k%d", id%10): fmt.Sprintf("v%d", id%3)})
	}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				c, err := f.engine.GetData(fmt.Sprintf("k%d", i%10))
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, c.Validate())
				n := 0
				for _, ids := range c.All() {
					n += ids.Len()
				}
				assert.Equal(t, 20, n)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			assert.NoError(t, f.engine.Flush())
			f.notify.fire()
		}
	}()
	wg.Wait()
}

func TestEngineConcurrentUpdates(t *testing.T) {
	f := newMemoryFixture(t)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := uint32(w*50 + i)
				in := doc{"shared": "v", fmt.Sprintf("own%d", id): "x"}
				assert.NoError(t, f.engine.UpdateAndApply(context.Background(), id, &in))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, f.ids(t, "shared", "v"), 200)
	assert.EqualValues(t, 400, f.engine.ModificationCount())
}

func TestNewEngineValidatesOptions(t *testing.T) {
	_, err := NewEngine(Options[doc, string, string]{})
	assert.ErrorIs(t, err, ixerrors.ErrInvalidInput)
	_, err = NewEngine(Options[doc, string, string]{
		ID:          "x",
		Indexer:     identity,
		Storage:     storage.NewMemoryStorage[string, string](storage.Options{}),
		Forward:     forward.NewMapIndex[string, string](storage.NewMemoryKV(), codec.String{}, codec.String{}),
		DebugChecks: true,
	})
	assert.ErrorIs(t, err, ixerrors.ErrInvalidInput)
}
