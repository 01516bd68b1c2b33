// Package diskcache implements storage.Tier on top of diskv, persisting
// entries as files under a base directory. Grounded on the teacher's
// diskcache/diskcache.go, generalized from raw []byte blobs to
// entry.Entry via MarshalBinary/UnmarshalBinary.
package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/peterbourgon/diskv"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Tier is a storage.Tier backed by a diskv store.
type Tier struct {
	d *diskv.Diskv
}

// New returns a Tier that stores entries as files under basePath, evicting
// its in-memory diskv cache (not the entries themselves) past maxBytes.
func New(basePath string, maxBytes uint64) *Tier {
	return &Tier{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			CacheSizeMax: maxBytes,
		}),
	}
}

// NewWithDiskv returns a Tier using the provided Diskv as underlying storage.
func NewWithDiskv(d *diskv.Diskv) *Tier {
	return &Tier{d: d}
}

var _ storage.Tier = (*Tier)(nil)

func keyToFilename(key string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

func (t *Tier) Get(_ context.Context, key string) (*entry.Entry, bool, error) {
	data, err := t.d.Read(keyToFilename(key))
	if err != nil {
		return nil, false, nil
	}
	e := &entry.Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("diskcache: decode %q: %w", key, err)
	}
	return e, true, nil
}

func (t *Tier) Put(_ context.Context, key string, e *entry.Entry) (bool, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := t.d.WriteStream(keyToFilename(key), bytes.NewReader(data), true); err != nil {
		return false, fmt.Errorf("diskcache: write %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(_ context.Context, key string) (bool, error) {
	filename := keyToFilename(key)
	existed := t.d.Has(filename)
	if err := t.d.Erase(filename); err != nil && existed {
		return false, fmt.Errorf("diskcache: erase %q: %w", key, err)
	}
	return existed, nil
}

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	return t.d.Has(keyToFilename(key)), nil
}

func (t *Tier) Clear(ctx context.Context) error {
	return t.ClearWhere(ctx, func(*entry.Entry) bool { return true })
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	cancel := make(chan struct{})
	defer close(cancel)
	for filename := range t.d.Keys(cancel) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		data, err := t.d.Read(filename)
		if err != nil {
			continue
		}
		e := &entry.Entry{}
		if err := e.UnmarshalBinary(data); err != nil {
			continue
		}
		if predicate(e) {
			_ = t.d.Erase(filename)
		}
	}
	return nil
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	cancel := make(chan struct{})
	defer close(cancel)
	for filename := range t.d.Keys(cancel) {
		keys = append(keys, filename)
	}
	return keys, nil
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	cancel := make(chan struct{})
	defer close(cancel)
	n := 0
	for range t.d.Keys(cancel) {
		n++
	}
	return n, nil
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	cancel := make(chan struct{})
	defer close(cancel)
	var total int64
	for filename := range t.d.Keys(cancel) {
		data, err := t.d.Read(filename)
		if err != nil {
			continue
		}
		total += int64(len(data))
	}
	return total, nil
}

func (t *Tier) Close() error { return nil }
