// Package leveldbstore implements storage.Tier on goleveldb, grounded on
// the teacher's leveldbcache/leveldbcache.go, generalized from raw []byte
// blobs to entry.Entry via MarshalBinary/UnmarshalBinary and from a
// stale-marker scheme to the tiered cache's own freshness handling.
package leveldbstore

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Tier is a storage.Tier backed by a LevelDB database.
type Tier struct {
	db *leveldb.DB
}

var _ storage.Tier = (*Tier)(nil)

// New opens (or creates) a LevelDB database at path.
func New(path string) (*Tier, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Tier{db: db}, nil
}

// NewWithDB wraps an already-opened database.
func NewWithDB(db *leveldb.DB) *Tier {
	return &Tier{db: db}
}

func (t *Tier) Get(_ context.Context, key string) (*entry.Entry, bool, error) {
	data, err := t.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("leveldbstore: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(_ context.Context, key string, e *entry.Entry) (bool, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := t.db.Put([]byte(key), data, nil); err != nil {
		return false, fmt.Errorf("leveldbstore: put %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(_ context.Context, key string) (bool, error) {
	_, err := t.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err := t.db.Delete([]byte(key), nil); err != nil {
		return false, fmt.Errorf("leveldbstore: delete %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	return t.db.Has([]byte(key), nil)
}

func (t *Tier) Clear(ctx context.Context) error {
	return t.ClearWhere(ctx, func(*entry.Entry) bool { return true })
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	iter := t.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e := &entry.Entry{}
		if err := e.UnmarshalBinary(iter.Value()); err != nil {
			continue
		}
		if predicate(e) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return t.db.Write(batch, nil)
}

func (t *Tier) Keys(_ context.Context) ([]string, error) {
	iter := t.db.NewIterator(util.BytesPrefix(nil), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(append([]byte(nil), iter.Key()...)))
	}
	return keys, iter.Error()
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	keys, err := t.Keys(ctx)
	return len(keys), err
}

func (t *Tier) SizeInBytes(_ context.Context) (int64, error) {
	iter := t.db.NewIterator(nil, nil)
	defer iter.Release()
	var total int64
	for iter.Next() {
		total += int64(len(iter.Value()))
	}
	return total, iter.Error()
}

func (t *Tier) Close() error { return t.db.Close() }
