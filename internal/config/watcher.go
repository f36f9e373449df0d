package config

import (
	"context"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SecretHolder holds a value that may be rotated while the server runs
type SecretHolder struct {
	v atomic.Value
}

// NewSecretHolder creates a holder with an initial value
func NewSecretHolder(initial string) *SecretHolder {
	h := &SecretHolder{}
	h.v.Store(initial)
	return h
}

// Get returns the current secret
func (h *SecretHolder) Get() string {
	s, _ := h.v.Load().(string)
	return s
}

// Set replaces the secret
func (h *SecretHolder) Set(s string) {
	h.v.Store(s)
}

const watchDebounce = 500 * time.Millisecond

// WatchFile calls onChange with the re-parsed overlay whenever the file is
// written or recreated. It blocks until ctx is cancelled.
func WatchFile(ctx context.Context, filePath string, onChange func(*Overlay)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}

	// Watch the directory; editors replace files rather than writing in place
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				overlay, err := ReadOverlay(absPath)
				if err != nil {
					log.Printf("⚠️  [CONFIG] Reload of %s failed: %v", filePath, err)
					return
				}
				log.Printf("🔄 [CONFIG] Reloaded %s", filePath)
				onChange(overlay)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️  [CONFIG] File watcher error: %v", err)
		}
	}
}
