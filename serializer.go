package blobcache

import (
	"encoding/json"

	"github.com/blobcache/blobcache/internal/cacheerr"
)

// Serializer is the capability the typed-object extensions (GetObject,
// InsertObject, GetOrFetchObject, ...) use to turn Go values into the
// byte payloads the cache stores — spec.md §4.9. Applications may supply
// any encoding (JSON, gob, protobuf); DefaultSerializer uses JSON.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ErrSerializationFailed is re-exported so callers can errors.Is against
// it without importing internal/cacheerr directly.
var ErrSerializationFailed = cacheerr.ErrSerializationFailed

// jsonSerializer is the default Serializer: encoding/json, which needs
// no extra dependency and round-trips every type the extension surface
// stores (objects, settings values, login records).
type jsonSerializer struct{}

func (jsonSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// DefaultSerializer is the JSON-backed Serializer that Open's
// configuration holds when WithSerializer is not passed, and the one
// ext.NewSettings uses when given a nil Serializer.
var DefaultSerializer Serializer = jsonSerializer{}
