package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and invokes the supplied callback
// with a freshly loaded snapshot whenever it changes. Stop must be called to
// release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the loader's first configuration file and
// reloads the full snapshot on any relevant change. Reloads that fail
// validation are reported through onError and leave the previous snapshot
// serving.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch requires a change callback")
	}
	target := ""
	for _, path := range l.files {
		if path != "" {
			target = path
			break
		}
	}
	if target == "" {
		return nil, errors.New("config: no file configured for watching")
	}
	if resolved, err := filepath.Abs(target); err == nil {
		target = resolved
	}
	target = filepath.Clean(target)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	// Watch the directory, not the file: editors and config mounts replace
	// files by rename, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		cancel()
		watcher.Close()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch close: %w", err))
			}
		}()

		reload := func() {
			cfg, err := l.Load(watchCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(cfg)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: file %s removed", target))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return w, nil
}
