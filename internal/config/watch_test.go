package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("CACHEFRONT", path)
	if _, err := loader.Load(ctx); err != nil {
		t.Fatalf("loader failed: %v", err)
	}

	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)
	watcher, err := loader.Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("server:\n  listen:\n    port: 9191\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case cfg := <-changeCh:
		if cfg.Server.Listen.Port != 9191 {
			t.Fatalf("expected reloaded port 9191, got %d", cfg.Server.Listen.Port)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload event")
	}
}

func TestWatchReportsInvalidReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("CACHEFRONT", path)
	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)
	watcher, err := loader.Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	// A reload that fails validation must surface as an error, never as a
	// config change.
	if err := os.WriteFile(path, []byte("server:\n  pagecache:\n    expires: -1\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case <-errCh:
	case cfg := <-changeCh:
		t.Fatalf("invalid config must not be delivered: %+v", cfg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for validation error")
	}
}

func TestWatchRequiresFileAndCallback(t *testing.T) {
	ctx := context.Background()

	if _, err := NewLoader("CACHEFRONT").Watch(ctx, func(Config) {}, nil); err == nil {
		t.Fatal("expected error when no file is configured")
	}

	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("server: {}\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := NewLoader("CACHEFRONT", path).Watch(ctx, nil, nil); err == nil {
		t.Fatal("expected error when no change callback is given")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("server: {}\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	watcher, err := NewLoader("CACHEFRONT", path).Watch(context.Background(), func(Config) {}, nil)
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
