package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemorySetGetRemove(t *testing.T) {
	backend := NewMemory()
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

	if err := backend.Remove(ctx, "page"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := backend.Get(ctx, "page"); ok {
		t.Fatalf("expected remove to drop the key")
	}
	// Removing an absent key is not an error.
	if err := backend.Remove(ctx, "page"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
}

func TestMemoryNativeExpiry(t *testing.T) {
	backend := NewMemory()
	ctx := context.Background()

	if err := backend.Set(ctx, "page", []byte("body"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := backend.Get(ctx, "page"); ok {
		t.Fatalf("expected value to expire")
	}
}

func TestMemoryAddIfAbsent(t *testing.T) {
	backend := NewMemory()
	ctx := context.Background()

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

func TestMemoryGetReturnsCopy(t *testing.T) {
	backend := NewMemory()
	ctx := context.Background()

	original := []byte("body")
	if err := backend.Set(ctx, "page", original, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, _, err := backend.Get(ctx, "page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	value[0] = 'X'

	again, _, err := backend.Get(ctx, "page")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if !bytes.Equal(again, []byte("body")) {
		t.Fatalf("stored value mutated through a returned slice: %q", again)
	}
}
