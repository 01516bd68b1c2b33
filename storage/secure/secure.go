// Package secure wraps any storage.Tier with optional AES-256-GCM
// at-rest encryption of serialized entries, the key derived from a
// passphrase via scrypt, grounded on the teacher's security.go /
// wrapper/securecache.
package secure

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
)

// NewAEAD derives an AES-256-GCM AEAD cipher from passphrase using scrypt.
func NewAEAD(passphrase string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte("relaycache-engine-secure-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Tier wraps an inner storage.Tier, encrypting each entry's serialized
// bytes before the inner tier ever sees them and decrypting on read. The
// inner tier sees body and headers only as ciphertext; method, URI, status
// and the two times are also stored beside it in the clear (see seal).
type Tier struct {
	inner storage.Tier
	gcm   cipher.AEAD
}

// Wrap returns a Tier that encrypts every entry round-tripped through
// inner using gcm.
func Wrap(inner storage.Tier, gcm cipher.AEAD) *Tier {
	return &Tier{inner: inner, gcm: gcm}
}

var _ storage.Tier = (*Tier)(nil)

func (t *Tier) encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, t.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return t.gcm.Seal(nonce, nonce, data, nil), nil
}

func (t *Tier) decrypt(data []byte) ([]byte, error) {
	nonceSize := t.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return t.gcm.Open(nil, nonce, ciphertext, nil)
}

// seal builds the entry stored in the inner tier: the whole serialized
// entry is encrypted into Body, and Method, URI, StatusCode and the two
// times are also copied in the clear (the inner tier indexes by key, not
// by these). Headers and all other fields exist only in the ciphertext.
func (t *Tier) seal(e *entry.Entry) (*entry.Entry, error) {
	plain, err := e.MarshalBinary()
	if err != nil {
		return nil, err
	}
	cipherBytes, err := t.encrypt(plain)
	if err != nil {
		return nil, err
	}
	sealed := &entry.Entry{
		Method:       e.Method,
		URI:          e.URI,
		StatusCode:   e.StatusCode,
		RequestTime:  e.RequestTime,
		ResponseTime: e.ResponseTime,
		Body:         cipherBytes,
	}
	return sealed, nil
}

func (t *Tier) unseal(sealed *entry.Entry) (*entry.Entry, error) {
	plain, err := t.decrypt(sealed.Body)
	if err != nil {
		return nil, err
	}
	var e entry.Entry
	if err := e.UnmarshalBinary(plain); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	sealed, ok, err := t.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	e, err := t.unseal(sealed)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	sealed, err := t.seal(e)
	if err != nil {
		return false, err
	}
	return t.inner.Put(ctx, key, sealed)
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) { return t.inner.Remove(ctx, key) }
func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	return t.inner.Contains(ctx, key)
}
func (t *Tier) Clear(ctx context.Context) error { return t.inner.Clear(ctx) }

// ClearWhere decrypts each candidate before evaluating predicate, since the
// inner tier only holds ciphertext bodies.
func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	return t.inner.ClearWhere(ctx, func(sealed *entry.Entry) bool {
		e, err := t.unseal(sealed)
		if err != nil {
			return false
		}
		return predicate(e)
	})
}

func (t *Tier) Keys(ctx context.Context) ([]string, error)        { return t.inner.Keys(ctx) }
func (t *Tier) Size(ctx context.Context) (int, error)             { return t.inner.Size(ctx) }
func (t *Tier) SizeInBytes(ctx context.Context) (int64, error)    { return t.inner.SizeInBytes(ctx) }
func (t *Tier) Close() error                                      { return t.inner.Close() }
