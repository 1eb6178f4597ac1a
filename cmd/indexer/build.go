package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/forward"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/words"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/redis"
)

// backend hands out the KV namespaces indexes keep their rows in.
type backend struct {
	cfg    *config.Config
	pebble *storage.PebbleDB
	redis  *pkgredis.Client
}

func openBackend(cfg *config.Config) (*backend, error) {
	b := &backend{cfg: cfg}
	switch cfg.Index.Backend {
	case config.BackendPebble:
		db, err := storage.OpenPebble(cfg.Index.DataDir)
		if err != nil {
			return nil, err
		}
		b.pebble = db
	case config.BackendRedis:
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
	}
	return b, nil
}

func (b *backend) kv(namespace string) storage.KV {
	switch {
	case b.pebble != nil:
		return b.pebble.Namespace(namespace)
	case b.redis != nil:
		return storage.NewRedisKV(b.redis, "ix:"+namespace, b.cfg.Redis.Timeout)
	}
	return storage.NewMemoryKV()
}

// ping reports whether the remote backend is reachable. Local backends have
// nothing to check.
func (b *backend) ping(ctx context.Context) error {
	if b.redis != nil {
		return b.redis.Ping(ctx)
	}
	return nil
}

// close releases the backend handle. Pebble stays open until every index
// namespace is closed as well.
func (b *backend) close() error {
	switch {
	case b.pebble != nil:
		return b.pebble.Close()
	case b.redis != nil:
		return b.redis.Close()
	}
	return nil
}

func reverseStorage[K comparable, V comparable](
	b *backend,
	index string,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
	m *metrics.Metrics,
) (storage.IndexStorage[K, V], error) {
	opts := storage.Options{
		Index:     index,
		Metrics:   m,
		CacheSize: b.cfg.Index.CacheSize,
		MaxDirty:  b.cfg.Index.MaxDirty,
	}
	if b.cfg.Index.Backend == config.BackendMemory {
		return storage.NewMemoryStorage[K, V](opts), nil
	}
	return storage.NewPersistentStorage(b.kv(index+"/r/"), keyCodec, valueCodec, opts)
}

// shared is what every engine of the process is wired to.
type shared struct {
	backend    *backend
	metrics    *metrics.Metrics
	rebuild    indexer.RebuildRequester
	lowMemory  indexer.LowMemoryNotifier
	onModified func(indexer.ModificationEvent)
}

// buildWordsEngine indexes each text input by its distinct terms.
func buildWordsEngine(s shared) (*indexer.Engine[string, string, words.TermStats], error) {
	const id = "words"
	reverse, err := reverseStorage[string, words.TermStats](s.backend, id, codec.String{}, words.StatsCodec{}, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("building %s storage: %w", id, err)
	}
	return indexer.NewEngine(indexer.Options[string, string, words.TermStats]{
		ID:          id,
		Indexer:     words.Index,
		ValueCodec:  words.StatsCodec{},
		Storage:     reverse,
		Forward:     forward.NewMapIndex[string, words.TermStats](s.backend.kv(id+"/f/"), codec.String{}, words.StatsCodec{}),
		Rebuild:     s.rebuild,
		LowMemory:   s.lowMemory,
		Metrics:     s.metrics,
		Logger:      slog.Default(),
		DebugChecks: s.backend.cfg.Index.DebugChecks,
		OnModified:  s.onModified,
	})
}

// buildSizesEngine buckets each text input into a single size class, so its
// forward rows fit the int-specialized store.
func buildSizesEngine(s shared) (*indexer.Engine[string, int32, struct{}], error) {
	const id = "sizes"
	reverse, err := reverseStorage[int32, struct{}](s.backend, id, codec.Int32{}, codec.Empty{}, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("building %s storage: %w", id, err)
	}
	return indexer.NewEngine(indexer.Options[string, int32, struct{}]{
		ID:          id,
		Indexer:     words.IndexSize,
		ValueCodec:  codec.Empty{},
		Storage:     reverse,
		Forward:     forward.NewIntIndex[int32, struct{}](s.backend.kv(id+"/f/"), forward.KeyOnlyMapping{}),
		Rebuild:     s.rebuild,
		LowMemory:   s.lowMemory,
		Metrics:     s.metrics,
		Logger:      slog.Default(),
		DebugChecks: s.backend.cfg.Index.DebugChecks,
		OnModified:  s.onModified,
	})
}
