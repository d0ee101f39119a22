package pagecache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cachefront/cachefront/internal/cache"
)

// IndexKey is the reserved backend key the page-cache index lives under.
const IndexKey = "pagecache:index"

// Index records every key the page cache has written, so invalidation by
// pattern can enumerate candidates without scanning the backend. It is stored
// as one JSON map under IndexKey with no ttl.
//
// The index is an optimization, not a source of truth: an entry may reference
// a page the backend has already evicted, and the whole-map read-modify-write
// can lose one of two racing updates. Readers tolerate both.
type Index struct {
	backend cache.Backend
}

// NewIndex wraps the backend the page cache stores its key set in.
func NewIndex(backend cache.Backend) *Index {
	return &Index{backend: backend}
}

// Load returns the current key set. An absent or malformed index yields an
// empty map rather than an error so one bad write can never block traffic.
func (ix *Index) Load(ctx context.Context) map[string]bool {
	payload, ok, err := ix.backend.Get(ctx, IndexKey)
	if err != nil || !ok {
		return map[string]bool{}
	}
	var keys map[string]bool
	if err := json.Unmarshal(payload, &keys); err != nil || keys == nil {
		return map[string]bool{}
	}
	return keys
}

// Store overwrites the whole key set.
func (ix *Index) Store(ctx context.Context, keys map[string]bool) error {
	payload, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("pagecache: encode index: %w", err)
	}
	if err := ix.backend.Set(ctx, IndexKey, payload, 0); err != nil {
		return fmt.Errorf("pagecache: store index: %w", err)
	}
	return nil
}

// Add records key in the set. The get+mutate+set sequence is best effort;
// concurrent adds of different keys can drop one of the two (see the type
// comment).
func (ix *Index) Add(ctx context.Context, key string) error {
	keys := ix.Load(ctx)
	if keys[key] {
		return nil
	}
	keys[key] = true
	return ix.Store(ctx, keys)
}
