package configstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/carousel/schema"
)

// ReloadFunc receives the result of a reload triggered by a file change.
type ReloadFunc func(cfg schema.RotationConfig, err error)

// Watch reloads the record whenever the file changes, until ctx is done.
// The parent directory is watched so that atomic renames are observed.
// Bursts of events within the debounce window produce a single reload.
func (s *Store) Watch(ctx context.Context, fn ReloadFunc) error {
	if fn == nil {
		return fmt.Errorf("reload callback is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log := s.logger(ctx)
	log.Info("config watch start", "debounce_ms", s.debounce.Milliseconds())

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("config watch stop")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event) {
				continue
			}
			log.Trace("config watch event", "op", event.Op.String(), "file", event.Name)
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", "err", err)
		case <-fire:
			fire = nil
			cfg, err := s.Load(ctx)
			fn(cfg, err)
		}
	}
}

func (s *Store) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != s.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}
