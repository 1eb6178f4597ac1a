package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
)

// appendMergerName is persisted in the pebble OPTIONS file; changing it makes
// existing stores unreadable.
const appendMergerName = "ixengine.append.v1"

// PebbleDB is a pebble instance shared by several namespaces. It closes the
// underlying database once the DB handle and every namespace are closed.
type PebbleDB struct {
	db     *pebble.DB
	mu     sync.Mutex
	refs   int
	logger *slog.Logger
}

// OpenPebble opens (or creates) a pebble database in dir configured with the
// append merge operator used for delta rows.
func OpenPebble(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		Merger: &pebble.Merger{
			Name:  appendMergerName,
			Merge: newAppendMerger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening pebble store at %s: %w", dir, err)
	}
	return &PebbleDB{
		db:     db,
		refs:   1,
		logger: slog.Default().With("component", "pebble", "dir", dir),
	}, nil
}

// Namespace returns a KV whose keys are prefixed with prefix.
func (p *PebbleDB) Namespace(prefix string) *PebbleKV {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
	return &PebbleKV{owner: p, prefix: []byte(prefix)}
}

// Close releases the handle returned by OpenPebble.
func (p *PebbleDB) Close() error {
	return p.release()
}

func (p *PebbleDB) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		return nil
	}
	p.refs--
	if p.refs > 0 {
		return nil
	}
	p.logger.Info("closing pebble store")
	return p.db.Close()
}

// PebbleKV is one key namespace inside a PebbleDB.
type PebbleKV struct {
	owner  *PebbleDB
	prefix []byte
	once   sync.Once
}

func (k *PebbleKV) key(key []byte) []byte {
	return append(slices.Clip(k.prefix), key...)
}

func (k *PebbleKV) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := k.owner.db.Get(k.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return slices.Clone(v), true, nil
}

func (k *PebbleKV) Set(key, value []byte) error {
	return k.owner.db.Set(k.key(key), value, pebble.NoSync)
}

func (k *PebbleKV) Merge(key, value []byte) error {
	return k.owner.db.Merge(k.key(key), value, pebble.NoSync)
}

func (k *PebbleKV) Delete(key []byte) error {
	return k.owner.db.Delete(k.key(key), pebble.NoSync)
}

func (k *PebbleKV) Update(fn func(w Writer) error) error {
	b := k.owner.db.NewBatch()
	defer b.Close()
	if err := fn(&pebbleBatch{kv: k, b: b}); err != nil {
		return err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("committing pebble batch: %w", err)
	}
	return nil
}

func (k *PebbleKV) Clear() error {
	if err := k.owner.db.DeleteRange(k.prefix, prefixEnd(k.prefix), pebble.Sync); err != nil {
		return fmt.Errorf("clearing namespace %q: %w", k.prefix, err)
	}
	return nil
}

// Flush syncs the write-ahead log so every acknowledged write is durable.
func (k *PebbleKV) Flush() error {
	if err := k.owner.db.LogData(nil, pebble.Sync); err != nil {
		return fmt.Errorf("syncing pebble wal: %w", err)
	}
	return nil
}

func (k *PebbleKV) Close() error {
	var err error
	k.once.Do(func() { err = k.owner.release() })
	return err
}

type pebbleBatch struct {
	kv *PebbleKV
	b  *pebble.Batch
}

func (w *pebbleBatch) Set(key, value []byte) error {
	return w.b.Set(w.kv.key(key), value, nil)
}

func (w *pebbleBatch) Merge(key, value []byte) error {
	return w.b.Merge(w.kv.key(key), value, nil)
}

func (w *pebbleBatch) Delete(key []byte) error {
	return w.b.Delete(w.kv.key(key), nil)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// appendMerger concatenates merge operands oldest first, so a row is its
// base section followed by every appended delta in write order.
type appendMerger struct {
	older [][]byte
	base  []byte
	newer [][]byte
}

func newAppendMerger(key, value []byte) (pebble.ValueMerger, error) {
	return &appendMerger{base: slices.Clone(value)}, nil
}

func (m *appendMerger) MergeNewer(value []byte) error {
	m.newer = append(m.newer, slices.Clone(value))
	return nil
}

func (m *appendMerger) MergeOlder(value []byte) error {
	m.older = append(m.older, slices.Clone(value))
	return nil
}

func (m *appendMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	var out []byte
	for i := len(m.older) - 1; i >= 0; i-- {
		out = append(out, m.older[i]...)
	}
	out = append(out, m.base...)
	for _, v := range m.newer {
		out = append(out, v...)
	}
	return out, nil, nil
}
