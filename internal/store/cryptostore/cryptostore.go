// Package cryptostore wraps any store.Store with transparent AES-256-GCM
// encryption of every value at rest — spec.md §4.8. The key is derived
// from a caller-supplied passphrase via scrypt; a random salt is
// generated once and persisted in a sentinel meta row so the same
// passphrase re-derives the same key on reopen.
package cryptostore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"time"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/sync/errgroup"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/future"
	"github.com/blobcache/blobcache/internal/primitives"
	"github.com/blobcache/blobcache/internal/store"
)

// saltKey is the logical key of the sentinel row that carries the scrypt
// salt. It lives under a NUL-prefixed type tag that ordinary callers have
// no reason to use; caller-supplied type tags are not checked against it.
const (
	saltTypeTag = "\x00blobcache"
	saltKey     = "salt"

	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32 // AES-256
	saltLen      = 16
)

// Store decrypts on read and encrypts on write, delegating everything
// else — coalescing, fencing, persistence — to the wrapped store.Store.
type Store struct {
	inner store.Store
	gcm   cipher.AEAD
}

// Open derives the encryption key from passphrase against inner's
// persisted (or newly generated) salt and returns a ready-to-use
// encrypted view over it.
func Open(ctx context.Context, inner store.Store, passphrase []byte) (*Store, error) {
	salt, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, cacheerr.Wrap("cryptostore.Open: derive key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cacheerr.Wrap("cryptostore.Open: new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cacheerr.Wrap("cryptostore.Open: new gcm", err)
	}
	return &Store{inner: inner, gcm: gcm}, nil
}

// saltMu serializes the check-then-generate-then-persist sequence below
// across every cryptostore.Open call in this process. Without it, two
// goroutines opening encrypted views over the same inner store at startup
// could each see ErrNotFound and generate their own salt, with the loser's
// Insert silently producing a key neither of them actually used to encrypt.
var saltMu = primitives.NewAsyncMutex()

func loadOrCreateSalt(ctx context.Context, inner store.Store) ([]byte, error) {
	h, err := saltMu.Acquire(ctx)
	if err != nil {
		return nil, cacheerr.Wrap("cryptostore: acquire salt lock", err)
	}
	defer saltMu.Release(h)

	existing, err := inner.Get(ctx, saltTypeTag, saltKey).Wait(ctx)
	if err == nil {
		return existing, nil
	}
	if !cacheerr.As(err, cacheerr.ErrNotFound) {
		return nil, cacheerr.Wrap("cryptostore: load salt", err)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, cacheerr.Wrap("cryptostore: generate salt", err)
	}
	if _, err := inner.Insert(ctx, saltTypeTag, saltKey, salt, time.Time{}).Wait(ctx); err != nil {
		return nil, cacheerr.Wrap("cryptostore: persist salt", err)
	}
	return salt, nil
}

// seal encrypts plaintext, prefixing the ciphertext with a fresh random
// nonce so each value is self-describing for decryption.
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cacheerr.Wrap("cryptostore: nonce", err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a value produced by seal. Any failure — truncated
// ciphertext, tag mismatch from a wrong passphrase or corruption — comes
// back as cacheerr.ErrCryptoFailed, matching scenario S5 (a wrong
// passphrase fails on the very first decrypt, not silently).
func (s *Store) open(sealed []byte) ([]byte, error) {
	n := s.gcm.NonceSize()
	if len(sealed) < n {
		return nil, cacheerr.ErrCryptoFailed
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, cacheerr.Wrap("cryptostore: decrypt", cacheerr.ErrCryptoFailed)
	}
	return plaintext, nil
}

func (s *Store) Insert(ctx context.Context, typeTag, key string, value []byte, expiresAt time.Time) *future.Future[struct{}] {
	sealed, err := s.seal(value)
	if err != nil {
		return future.Failed[struct{}](err)
	}
	return s.inner.Insert(ctx, typeTag, key, sealed, expiresAt)
}

func (s *Store) Get(ctx context.Context, typeTag, key string) *future.Future[[]byte] {
	out := future.New[[]byte]()
	go func() {
		sealed, err := s.inner.Get(ctx, typeTag, key).Wait(ctx)
		if err != nil {
			out.Fail(err)
			return
		}
		plain, err := s.open(sealed)
		if err != nil {
			out.Fail(err)
			return
		}
		out.Succeed(plain)
	}()
	return out
}

func (s *Store) GetCreatedAt(ctx context.Context, typeTag, key string) *future.Future[*time.Time] {
	return s.inner.GetCreatedAt(ctx, typeTag, key)
}

func (s *Store) Invalidate(ctx context.Context, typeTag, key string) *future.Future[struct{}] {
	return s.inner.Invalidate(ctx, typeTag, key)
}

func (s *Store) InvalidateAll(ctx context.Context) *future.Future[struct{}] {
	return s.inner.InvalidateAll(ctx)
}

func (s *Store) GetAllKeys(ctx context.Context, typeTag string) *future.Future[[]string] {
	return s.inner.GetAllKeys(ctx, typeTag)
}

func (s *Store) BulkInsert(ctx context.Context, elems []store.CacheElement) *future.Future[struct{}] {
	sealed := make([]store.CacheElement, len(elems))
	var g errgroup.Group
	for i, e := range elems {
		i, e := i, e
		g.Go(func() error {
			ct, err := s.seal(e.Value)
			if err != nil {
				return err
			}
			e.Value = ct
			sealed[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return future.Failed[struct{}](err)
	}
	return s.inner.BulkInsert(ctx, sealed)
}

func (s *Store) BulkGet(ctx context.Context, typeTag string, keys []string) *future.Future[[]store.CacheElement] {
	out := future.New[[]store.CacheElement]()
	go func() {
		elems, err := s.inner.BulkGet(ctx, typeTag, keys).Wait(ctx)
		if err != nil {
			out.Fail(err)
			return
		}
		plain := make([]store.CacheElement, len(elems))
		var g errgroup.Group
		for i, e := range elems {
			i, e := i, e
			g.Go(func() error {
				pt, err := s.open(e.Value)
				if err != nil {
					return err
				}
				e.Value = pt
				plain[i] = e
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			out.Fail(err)
			return
		}
		out.Succeed(plain)
	}()
	return out
}

func (s *Store) BulkInvalidate(ctx context.Context, typeTag string, keys []string) *future.Future[struct{}] {
	return s.inner.BulkInvalidate(ctx, typeTag, keys)
}

func (s *Store) UpdateExpiration(ctx context.Context, typeTag, key string, newExpiresAt time.Time) *future.Future[struct{}] {
	return s.inner.UpdateExpiration(ctx, typeTag, key, newExpiresAt)
}

func (s *Store) Flush(ctx context.Context) *future.Future[struct{}] {
	return s.inner.Flush(ctx)
}

func (s *Store) Vacuum(ctx context.Context) *future.Future[struct{}] {
	return s.inner.Vacuum(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
