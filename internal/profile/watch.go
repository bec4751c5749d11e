package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events editors produce on save.
const watchDebounce = 150 * time.Millisecond

// Watch follows external edits to the backing file until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// rename-over-file saves (ours included) keep being observed. Content the
// store wrote itself is skipped. Invalid files are logged and ignored.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("profile watcher: watch %s: %w", dir, err)
	}
	s.logger.Info("watching profile for changes", "path", s.path)

	name := filepath.Base(s.path)
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			s.reloadIfChanged()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("profile watcher error", "error", err)
		}
	}
}

func (s *Store) reloadIfChanged() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("profile reload: read failed", "path", s.path, "error", err)
		}
		return
	}
	if s.isOwnWrite(data) {
		return
	}
	if err := s.Reload(); err != nil {
		s.logger.Warn("profile reload rejected, keeping current profile", "path", s.path, "error", err)
		return
	}
	s.logger.Info("profile reloaded from disk", "path", s.path)
}
