package cache

import (
	"context"
	"sync"
	"time"
)

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && now.After(v.expiresAt)
}

type memoryBackend struct {
	mu     sync.Mutex
	values map[string]memoryValue
}

// NewMemory returns a process-local Backend. Expired values are dropped
// lazily on read, so the map only grows with the live key set.
func NewMemory() Backend {
	return &memoryBackend{values: make(map[string]memoryValue)}
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	if value.expired(time.Now()) {
		delete(b.values, key)
		return nil, false, nil
	}
	return cloneBytes(value.data), true, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = newMemoryValue(value, ttl)
	return nil
}

func (b *memoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

func (b *memoryBackend) AddIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.values[key]; ok && !existing.expired(time.Now()) {
		return false, nil
	}
	b.values[key] = newMemoryValue(value, ttl)
	return true, nil
}

func (b *memoryBackend) Close(context.Context) error {
	return nil
}

func newMemoryValue(data []byte, ttl time.Duration) memoryValue {
	value := memoryValue{data: cloneBytes(data)}
	if ttl > 0 {
		value.expiresAt = time.Now().Add(ttl)
	}
	return value
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
