package cache

import (
	"context"
	"time"
)

// Backend is the key-value store the page cache keeps entries, its key index,
// and busy-lock markers in. Values are opaque byte slices; serialization is
// the caller's concern.
//
// A positive ttl asks the backend to expire the value natively. Backends are
// not trusted to honor it (the page cache tracks logical expiry itself), so
// honoring the ttl is an optimization, not a requirement. A ttl of zero means
// the value never expires on its own.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored under key, or ok=false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// AddIfAbsent atomically stores value under key only when the key is
	// absent, and reports whether this caller won. The ttl must be positive.
	// This is the exclusive primitive the busy lock is built on; a
	// get-then-set emulation is not acceptable here.
	AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Close releases backend resources.
	Close(ctx context.Context) error
}
