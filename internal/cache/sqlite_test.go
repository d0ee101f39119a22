package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteBackend(t *testing.T) Backend {
	t.Helper()
	backend, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := backend.Close(context.Background()); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return backend
}

func TestSQLiteRequiresPath(t *testing.T) {
	if _, err := NewSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSQLiteSetGetRemove(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	if err := backend.Set(ctx, "page", []byte("body"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := backend.Get(ctx, "page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || !bytes.Equal(value, []byte("body")) {
		t.Fatalf("unexpected value: ok=%v value=%q", ok, value)
	}

	// Overwrite replaces the previous value.
	if err := backend.Set(ctx, "page", []byte("fresh"), 0); err != nil {
		t.Fatalf("set overwrite: %v", err)
	}
	value, _, err = backend.Get(ctx, "page")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if !bytes.Equal(value, []byte("fresh")) {
		t.Fatalf("expected overwritten value, got %q", value)
	}

	if err := backend.Remove(ctx, "page"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := backend.Get(ctx, "page"); ok {
		t.Fatalf("expected remove to drop the key")
	}
	if err := backend.Remove(ctx, "page"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
}

func TestSQLiteNativeExpiry(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	if err := backend.Set(ctx, "page", []byte("body"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := backend.Get(ctx, "page"); ok {
		t.Fatalf("expected value to expire")
	}
}

func TestSQLiteAddIfAbsent(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	if _, err := backend.AddIfAbsent(ctx, "lock", []byte("1"), 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}

	won, err := backend.AddIfAbsent(ctx, "lock", []byte("1"), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !won {
		t.Fatalf("expected first caller to win")
	}

	won, err = backend.AddIfAbsent(ctx, "lock", []byte("2"), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if won {
		t.Fatalf("expected second caller to lose while lock is held")
	}

	time.Sleep(60 * time.Millisecond)
	won, err = backend.AddIfAbsent(ctx, "lock", []byte("3"), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("add after expiry: %v", err)
	}
	if !won {
		t.Fatalf("expected acquisition to succeed after the lock expired")
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	backend, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	if err := backend.Set(ctx, "page", []byte("body"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := backend.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)

	value, ok, err := reopened.Get(ctx, "page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || !bytes.Equal(value, []byte("body")) {
		t.Fatalf("expected value to survive reopen: ok=%v value=%q", ok, value)
	}
}
