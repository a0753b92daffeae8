package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned by reads when the key or field does not exist.
var ErrNil = errors.New("storage: nil")

// ErrTxConflict is returned by HUpdate when optimistic retries are exhausted.
var ErrTxConflict = errors.New("storage: transaction conflict")

// UpdateFunc receives the current hash field value and returns the value to
// write. found is false when the field does not exist yet. Returning an error
// aborts the update and the error is passed back to the caller unchanged.
type UpdateFunc func(current string, found bool) (string, error)

// StateStore is the set of primitives the matching engine needs from its
// backing store. Implementations report backend failures wrapped with
// apperr.ErrStoreUnavailable.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DelIfEqual(ctx context.Context, key, value string) (bool, error)
	// ExpireIfEqual resets the TTL of key when it holds value. A ttl <= 0
	// removes the expiry.
	ExpireIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	GeoAdd(ctx context.Context, key, member string, lat, lon float64) error
	GeoRadius(ctx context.Context, key string, lat, lon, radiusMeters float64, count int) ([]string, error)
	Members(ctx context.Context, key string) ([]string, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HUpdate(ctx context.Context, key, field string, fn UpdateFunc) error

	Ping(ctx context.Context) error
}
