package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/container"
)

func newPersistent(t *testing.T, kv KV) *PersistentStorage[string, string] {
	t.Helper()
	s, err := NewPersistentStorage[string, string](kv, codec.String{}, codec.String{}, Options{Index: "test", CacheSize: 8})
	require.NoError(t, err)
	return s
}

func snapshot(t *testing.T, s IndexStorage[string, string], key string) *container.ValueContainer[string] {
	t.Helper()
	c, err := s.Read(key)
	require.NoError(t, err)
	return c.Clone()
}

func exerciseStorage(t *testing.T, s IndexStorage[string, string]) {
	require.NoError(t, s.AddValue("foo", 1, "v1"))
	require.NoError(t, s.AddValue("foo", 2, "v1"))
	require.NoError(t, s.AddValue("bar", 2, "v2"))

	foo := snapshot(t, s, "foo")
	assert.Equal(t, []uint32{1, 2}, foo.Get("v1").Slice())
	assert.Equal(t, 1, snapshot(t, s, "bar").Size())

	require.NoError(t, s.RemoveAllValues("bar", 2))
	require.NoError(t, s.RemoveAllValues("foo", 2))
	assert.True(t, snapshot(t, s, "bar").IsEmpty())
	assert.Equal(t, []uint32{1}, snapshot(t, s, "foo").Get("v1").Slice())
	assert.True(t, snapshot(t, s, "missing").IsEmpty())

	require.NoError(t, s.Flush())
	require.NoError(t, s.Clear())
	assert.True(t, snapshot(t, s, "foo").IsEmpty())
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage[string, string](Options{Index: "test"}))
}

func TestPersistentStorageOverMemoryKV(t *testing.T) {
	exerciseStorage(t, newPersistent(t, NewMemoryKV()))
}

func TestPersistentStorageOverPebble(t *testing.T) {
	db, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	s := newPersistent(t, db.Namespace("r/test/"))
	exerciseStorage(t, s)
	require.NoError(t, s.Close())
}

func TestPersistentStorageAppendsDeltas(t *testing.T) {
	kv := NewMemoryKV()
	s := newPersistent(t, kv)
	for id := uint32(1); id <= 20; id++ {
		require.NoError(t, s.AddValue("k", id, fmt.Sprintf("v%d", id%4)))
	}
	require.NoError(t, s.Flush())
	full, found, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, s.RemoveAllValues("k", 3))
	require.NoError(t, s.Flush())
	withDelta, _, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	assert.Greater(t, len(withDelta), len(full))
	assert.Equal(t, full, withDelta[:len(full)], "delta must be appended after the full row")

	reopened := newPersistent(t, kv)
	c, err := reopened.Read("k")
	require.NoError(t, err)
	assert.True(t, c.NeedsCompaction())
	_, ok := c.ValueOf(3)
	assert.False(t, ok)
	assert.True(t, c.Equal(snapshot(t, s, "k")))

	require.NoError(t, reopened.AddValue("k", 3, "v3"))
	require.NoError(t, reopened.Flush())
	compacted, _, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	fresh := container.New[string]()
	require.NoError(t, fresh.Load(compacted, codec.String{}))
	assert.False(t, fresh.NeedsCompaction())
	assert.Equal(t, 4, fresh.Size())
}

func TestPersistentStoragePebbleMergeSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenPebble(dir)
	require.NoError(t, err)
	s := newPersistent(t, db.Namespace("r/"))
	for id := uint32(1); id <= 10; id++ {
		require.NoError(t, s.AddValue("k", id, fmt.Sprintf("v%d", id%5)))
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.RemoveAllValues("k", 4))
	require.NoError(t, s.AddValue("k", 11, "v0"))
	require.NoError(t, s.Flush())
	want := snapshot(t, s, "k")
	require.NoError(t, s.Close())
	require.NoError(t, db.Close())

	db, err = OpenPebble(dir)
	require.NoError(t, err)
	defer db.Close()
	got := snapshot(t, newPersistent(t, db.Namespace("r/")), "k")
	assert.True(t, want.Equal(got))
	assert.True(t, got.NeedsCompaction())
}

func TestPersistentStorageEvictionKeepsDirtyRows(t *testing.T) {
	kv := NewMemoryKV()
	s := newPersistent(t, kv)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.AddValue(fmt.Sprintf("k%d", i), uint32(i), "v"))
	}
	for i := 0; i < 50; i++ {
		c := snapshot(t, s, fmt.Sprintf("k%d", i))
		require.Equal(t, []uint32{uint32(i)}, c.Get("v").Slice())
	}
	require.NoError(t, s.DropCaches())
	require.NoError(t, s.Flush())
	assert.Equal(t, 50, kv.Len())
}

func TestPersistentStorageConcurrentReadsDuringFlush(t *testing.T) {
	s := newPersistent(t, NewMemoryKV())
	for i := 0; i < 100; i++ {
		require.NoError(t, s.AddValue(fmt.Sprintf("k%d", i%10), uint32(i), fmt.Sprintf("v%d", i%3)))
	}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c, err := s.Read(fmt.Sprintf("k%d", i%10))
				assert.NoError(t, err)
				assert.Equal(t, 3, c.Clone().Size())
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Flush())
		assert.NoError(t, s.DropCaches())
		assert.NoError(t, s.Flush())
	}()
	wg.Wait()
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("r/b"), prefixEnd([]byte("r/a")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff}))
}

func TestAppendMergerOrdersOperands(t *testing.T) {
	m, err := newAppendMerger(nil, []byte("c"))
	require.NoError(t, err)
	require.NoError(t, m.MergeOlder([]byte("b")))
	require.NoError(t, m.MergeOlder([]byte("a")))
	require.NoError(t, m.MergeNewer([]byte("d")))
	out, _, err := m.Finish(true)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(out))
}
