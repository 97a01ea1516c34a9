// Package cacheerr defines the closed set of error kinds shared by every
// blobcache component, and the helpers used to translate lower-level
// errors (SQL, crypto, codec) into them.
package cacheerr

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every error surfaced from a public blobcache operation
// wraps exactly one of these via %w, so callers can errors.Is against them.
var (
	// ErrNotFound indicates the requested key (or type/key pair) does not
	// exist, or exists but has expired. Never fatal; see spec invariant I5.
	ErrNotFound = errors.New("blobcache: not found")

	// ErrAlreadyDisposed indicates the operation was issued after the
	// owning cache (or operation queue) completed shutdown.
	ErrAlreadyDisposed = errors.New("blobcache: already disposed")

	// ErrInvalidArgument indicates a key, type tag, or path failed
	// validation (SecurityUtilities) before reaching storage.
	ErrInvalidArgument = errors.New("blobcache: invalid argument")

	// ErrCancelled indicates a waiter (AsyncMutex acquire, or a caller's
	// context) was cancelled before the operation completed.
	ErrCancelled = errors.New("blobcache: cancelled")

	// ErrSerializationFailed indicates the Serializer capability failed to
	// encode or decode a value.
	ErrSerializationFailed = errors.New("blobcache: serialization failed")

	// ErrCryptoFailed indicates key derivation, encryption, or decryption
	// failed — including a wrong passphrase detected on first decrypt.
	ErrCryptoFailed = errors.New("blobcache: crypto failed")

	// ErrStorageFailed indicates a SQL or filesystem error from the
	// persistent store that could not be classified more specifically.
	ErrStorageFailed = errors.New("blobcache: storage failed")

	// ErrNetworkFailed indicates the download/fetch extension's transport
	// failed.
	ErrNetworkFailed = errors.New("blobcache: network failed")

	// ErrConflict indicates a unique-constraint or concurrent-mutation
	// conflict that the caller should not blindly retry.
	ErrConflict = errors.New("blobcache: conflict")
)

// Wrap annotates err with op and, if err is sql.ErrNoRows, maps it to
// ErrNotFound. Returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isSentinel(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrStorageFailed)
}

// isSentinel reports whether err already wraps one of the package's own
// sentinels, so Wrap does not relabel it as ErrStorageFailed.
func isSentinel(err error) bool {
	for _, sentinel := range []error{
		ErrNotFound, ErrAlreadyDisposed, ErrInvalidArgument, ErrCancelled,
		ErrSerializationFailed, ErrCryptoFailed, ErrStorageFailed,
		ErrNetworkFailed, ErrConflict,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Retryable reports whether err looks like a transient condition from the
// SQLite driver (lock contention, busy database) that is worth retrying
// with backoff rather than failing the batch immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "sqlite_busy") ||
		strings.Contains(s, "busy") ||
		strings.Contains(s, "locked")
}

// Wrapf is Wrap with a formatted operation description.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Sprintf(format, args...), err)
}

// As reports whether err wraps target via errors.Is.
func As(err, target error) bool {
	return errors.Is(err, target)
}
