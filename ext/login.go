package ext

import (
	"context"
	"time"

	"github.com/blobcache/blobcache"
)

// loginTypeTag scopes stored credentials away from caller-supplied type
// tags, matching spec.md §4.9's "typed object at key login:{host}" —
// here expressed as a dedicated type tag rather than a key prefix, since
// Store already namespaces by (typeTag, key) and this avoids a caller
// picking a colliding literal key.
const loginTypeTag = "blobcache-login"

// Login is the credential record save_login/get_login operate on.
type Login struct {
	User     string
	Password string
}

// SaveLogin stores user/password for host, expiring at expiresAt (zero
// means never).
func SaveLogin(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, host, user, password string, expiresAt time.Time) error {
	return InsertObjectOfType(ctx, cache, serializer, loginTypeTag, host, Login{User: user, Password: password}, expiresAt)
}

// GetLogin retrieves the credential saved for host. Fails with
// cacheerr.ErrNotFound if absent or expired, and with
// cacheerr.ErrCryptoFailed for an encrypted cache opened with the wrong
// passphrase (scenario S5).
func GetLogin(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, host string) (Login, error) {
	var l Login
	err := GetObjectOfType(ctx, cache, serializer, loginTypeTag, host, &l)
	return l, err
}

// EraseLogin removes the credential saved for host, if any.
func EraseLogin(ctx context.Context, cache blobcache.Cache, host string) error {
	_, err := cache.Invalidate(ctx, loginTypeTag, host).Wait(ctx)
	return err
}
