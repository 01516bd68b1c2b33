// Package natskvstore implements storage.Tier on a NATS JetStream
// Key/Value bucket, grounded on the teacher's natskv/natskv.go,
// generalized from raw []byte blobs to entry.Entry and from a
// fire-and-forget interface to one using native key listing for
// Keys/ClearWhere.
package natskvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Config configures the NATS K/V-backed tier.
type Config struct {
	NATSUrl     string
	Bucket      string
	Description string
	TTL         time.Duration
	NATSOptions []nats.Option
}

// Tier is a storage.Tier backed by a NATS JetStream K/V bucket.
type Tier struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

var _ storage.Tier = (*Tier)(nil)

// New connects to NATS and creates (or reuses) cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Tier, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("natskvstore: bucket name is required")
	}
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, cfg.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("natskvstore: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskvstore: jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: cfg.Description,
		TTL:         cfg.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskvstore: create bucket: %w", err)
	}
	return &Tier{kv: kv, nc: nc}, nil
}

// NewWithKeyValue wraps an already-opened K/V store; Close will not close
// the underlying connection.
func NewWithKeyValue(kv jetstream.KeyValue) *Tier {
	return &Tier{kv: kv}
}

func natsKey(key string) string { return "relaycache." + key }

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	rec, err := t.kv.Get(ctx, natsKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskvstore: get %q: %w", key, err)
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(rec.Value()); err != nil {
		return nil, false, fmt.Errorf("natskvstore: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	if _, err := t.kv.Put(ctx, natsKey(key), data); err != nil {
		return false, fmt.Errorf("natskvstore: put %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	if _, err := t.kv.Get(ctx, natsKey(key)); err != nil {
		if err == jetstream.ErrKeyNotFound {
			return false, nil
		}
	}
	if err := t.kv.Delete(ctx, natsKey(key)); err != nil {
		if err == jetstream.ErrKeyNotFound {
			return false, nil
		}
		return false, fmt.Errorf("natskvstore: remove %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	_, err := t.kv.Get(ctx, natsKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Tier) Clear(ctx context.Context) error {
	return t.ClearWhere(ctx, func(*entry.Entry) bool { return true })
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	keys, err := t.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e, ok, err := t.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if predicate(e) {
			if _, err := t.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	lister, err := t.kv.ListKeys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("natskvstore: keys: %w", err)
	}
	var keys []string
	for k := range lister.Keys() {
		if name, ok := strings.CutPrefix(k, natsKey("")); ok {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	keys, err := t.Keys(ctx)
	return len(keys), err
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	keys, err := t.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		e, ok, err := t.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		total += int64(e.ByteLen())
	}
	return total, nil
}

func (t *Tier) Close() error {
	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}
