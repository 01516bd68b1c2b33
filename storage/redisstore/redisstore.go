// Package redisstore implements storage.Tier on Redis via go-redis/v9.
// The teacher's redis/redis.go is built on the older gomodule/redigo
// client; this package is grounded on that file's shape (key prefixing,
// timeout handling, pool configuration intent) but uses go-redis/v9,
// documented in the module's design notes since redigo and go-redis
// cannot both sensibly back the same Tier.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

const keyPrefix = "relaycache:"

// Config configures the Redis-backed tier.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Tier is a storage.Tier backed by a Redis client.
type Tier struct {
	client  *redis.Client
	timeout time.Duration
}

var _ storage.Tier = (*Tier)(nil)

// New connects to Redis using cfg.
func New(cfg Config) (*Tier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redisstore: address is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	return &Tier{client: client, timeout: cfg.Timeout}, nil
}

// NewWithClient wraps an already-configured client.
func NewWithClient(client *redis.Client, timeout time.Duration) *Tier {
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Tier{client: client, timeout: timeout}
}

func redisKey(key string) string { return keyPrefix + key }

func (t *Tier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	data, err := t.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("redisstore: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := t.client.Set(ctx, redisKey(key), data, 0).Err(); err != nil {
		return false, fmt.Errorf("redisstore: put %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	n, err := t.client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: remove %q: %w", key, err)
	}
	return n > 0, nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	n, err := t.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: contains %q: %w", key, err)
	}
	return n > 0, nil
}

func (t *Tier) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := t.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (t *Tier) Clear(ctx context.Context) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	keys, err := t.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return t.client.Del(ctx, keys...).Err()
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	keys, err := t.scanKeys(ctx)
	if err != nil {
		return err
	}
	var toRemove []string
	for _, rk := range keys {
		data, err := t.client.Get(ctx, rk).Bytes()
		if err != nil {
			continue
		}
		e := &entry.Entry{}
		if err := e.UnmarshalBinary(data); err != nil {
			continue
		}
		if predicate(e) {
			toRemove = append(toRemove, rk)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}
	return t.client.Del(ctx, toRemove...).Err()
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	raw, err := t.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, rk := range raw {
		keys[i] = rk[len(keyPrefix):]
	}
	return keys, nil
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	keys, err := t.Keys(ctx)
	return len(keys), err
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	keys, err := t.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, rk := range keys {
		n, err := t.client.StrLen(ctx, rk).Result()
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

func (t *Tier) Close() error { return t.client.Close() }
