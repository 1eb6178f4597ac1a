package storage

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/redis"
)

// RedisKV stores one namespace of rows in Redis. Merge maps to APPEND, so
// delta rows behave exactly as with the pebble merge operator. Durability is
// left to the server's persistence settings; Flush is a no-op.
type RedisKV struct {
	client  *pkgredis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisKV returns a namespace over client. The client is shared and is
// not closed by Close.
func NewRedisKV(client *pkgredis.Client, prefix string, timeout time.Duration) *RedisKV {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisKV{client: client, prefix: prefix, timeout: timeout}
}

func (r *RedisKV) key(key []byte) string {
	return r.prefix + string(key)
}

func (r *RedisKV) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *RedisKV) Get(key []byte) ([]byte, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	v, err := r.client.GetBytes(ctx, r.key(key))
	if pkgredis.IsNilError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *RedisKV) Set(key, value []byte) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.client.Set(ctx, r.key(key), value, 0)
}

func (r *RedisKV) Merge(key, value []byte) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.client.Append(ctx, r.key(key), value)
}

func (r *RedisKV) Delete(key []byte) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.client.Del(ctx, r.key(key))
}

func (r *RedisKV) Update(fn func(w Writer) error) error {
	ctx, cancel := r.ctx()
	defer cancel()
	err := r.client.TxPipelined(ctx, func(p pkgredis.Pipeliner) error {
		return fn(&redisBatch{kv: r, ctx: ctx, p: p})
	})
	if err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	return nil
}

func (r *RedisKV) Clear() error {
	ctx, cancel := r.ctx()
	defer cancel()
	if _, err := r.client.FlushByPattern(ctx, r.prefix+"*"); err != nil {
		return fmt.Errorf("clearing namespace %s: %w", r.prefix, err)
	}
	return nil
}

func (r *RedisKV) Flush() error { return nil }

func (r *RedisKV) Close() error { return nil }

type redisBatch struct {
	kv  *RedisKV
	ctx context.Context
	p   pkgredis.Pipeliner
}

func (b *redisBatch) Set(key, value []byte) error {
	return b.p.Set(b.ctx, b.kv.key(key), value, 0).Err()
}

func (b *redisBatch) Merge(key, value []byte) error {
	return b.p.Append(b.ctx, b.kv.key(key), string(value)).Err()
}

func (b *redisBatch) Delete(key []byte) error {
	return b.p.Del(b.ctx, b.kv.key(key)).Err()
}
