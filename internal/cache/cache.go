package cache

import (
	"context"
	"time"
)

// VersionedCache stores values tagged with a version. SetIfNewer never replaces an entry
// holding a higher version; stored is false when the write lost.
type VersionedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfNewer(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (stored bool, err error)
	Delete(ctx context.Context, key string) error
}

// Locker is a best-effort distributed mutex. Release must be called with the token returned by Acquire.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
