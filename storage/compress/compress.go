// Package compress wraps any storage.Tier with optional body compression
// (gzip, snappy, or brotli), grounded on the teacher's
// wrapper/compresscache. A one-byte algorithm marker is prefixed so an
// entry compressed under one algorithm can still be decompressed even if
// the wrapper's configured algorithm later changes.
package compress

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Algorithm selects the body compression codec.
type Algorithm byte

const (
	None Algorithm = iota
	Gzip
	Brotli
	Snappy
)

// Tier wraps an inner storage.Tier, compressing each entry's Body before
// delegating and decompressing it on read. Headers and other fields pass
// through unmodified.
type Tier struct {
	inner     storage.Tier
	algorithm Algorithm
}

// Wrap returns a Tier that compresses bodies routed through inner using
// algorithm.
func Wrap(inner storage.Tier, algorithm Algorithm) *Tier {
	return &Tier{inner: inner, algorithm: algorithm}
}

var _ storage.Tier = (*Tier)(nil)

func compressWith(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	default:
		return data, nil
	}
}

func decompressWith(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Brotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case Snappy:
		return snappy.Decode(nil, data)
	case None:
		return data, nil
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm marker %d", algo)
	}
}

func (t *Tier) pack(body []byte) ([]byte, error) {
	compressed, err := compressWith(t.algorithm, body)
	if err != nil {
		// Fall back to storing uncompressed rather than losing the entry.
		out := make([]byte, len(body)+1)
		out[0] = byte(None)
		copy(out[1:], body)
		return out, nil
	}
	out := make([]byte, len(compressed)+1)
	out[0] = byte(t.algorithm)
	copy(out[1:], compressed)
	return out, nil
}

func (t *Tier) unpack(packed []byte) ([]byte, error) {
	if len(packed) == 0 {
		return packed, nil
	}
	marker := Algorithm(packed[0])
	return decompressWith(marker, packed[1:])
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	e, ok, err := t.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	body, err := t.unpack(e.Body)
	if err != nil {
		return nil, false, err
	}
	out := e.Clone()
	out.Body = body
	return out, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	packed, err := t.pack(e.Body)
	if err != nil {
		return false, err
	}
	toStore := e.Clone()
	toStore.Body = packed
	return t.inner.Put(ctx, key, toStore)
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) { return t.inner.Remove(ctx, key) }
func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	return t.inner.Contains(ctx, key)
}
func (t *Tier) Clear(ctx context.Context) error { return t.inner.Clear(ctx) }

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	return t.inner.ClearWhere(ctx, func(e *entry.Entry) bool {
		body, err := t.unpack(e.Body)
		if err != nil {
			return false
		}
		clone := e.Clone()
		clone.Body = body
		return predicate(clone)
	})
}

func (t *Tier) Keys(ctx context.Context) ([]string, error)     { return t.inner.Keys(ctx) }
func (t *Tier) Size(ctx context.Context) (int, error)          { return t.inner.Size(ctx) }
func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) { return t.inner.SizeInBytes(ctx) }
func (t *Tier) Close() error                                   { return t.inner.Close() }
