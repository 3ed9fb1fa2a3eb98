// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/xianrendesu-max/sennintubeyobi/internal/log"
)

// MirrorWatcher watches the mirrors file and pushes reloaded pool lists to
// a callback. Only mirror lists are hot-reloadable; everything else requires
// a restart.
type MirrorWatcher struct {
	path    string
	onApply func(map[Capability][]string)
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewMirrorWatcher creates a watcher for the given mirrors file. onApply is
// invoked with the parsed lists after every successful reload.
func NewMirrorWatcher(path string, onApply func(map[Capability][]string)) *MirrorWatcher {
	return &MirrorWatcher{
		path:    path,
		onApply: onApply,
		logger:  log.WithComponent("config"),
	}
}

// Start begins watching. A no-op when no mirrors file is configured.
func (w *MirrorWatcher) Start(ctx context.Context) error {
	if w.path == "" {
		w.logger.Info().
			Str("event", "mirrors.watcher_disabled").
			Msg("mirror watcher disabled (built-in lists only)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(w.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch mirrors file: %w", err)
	}
	w.watcher = watcher

	w.logger.Info().
		Str("event", "mirrors.watcher_started").
		Str("path", w.path).
		Msg("watching mirrors file for changes")

	go w.watchLoop(ctx)
	return nil
}

func (w *MirrorWatcher) watchLoop(ctx context.Context) {
	// Debounce to avoid a reload per write syscall from editors.
	var debounce *time.Timer
	const debounceFor = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			w.logger.Info().Str("event", "mirrors.watcher_stopped").Msg("mirror watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceFor, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().
				Err(err).
				Str("event", "mirrors.watcher_error").
				Msg("mirror watcher error")
		}
	}
}

func (w *MirrorWatcher) reload() {
	mirrors, err := LoadMirrorsFile(w.path)
	if err != nil {
		// Keep the previous lists; a half-written file must never empty a pool.
		w.logger.Error().
			Err(err).
			Str("event", "mirrors.reload_failed").
			Msg("mirror reload failed, keeping current lists")
		return
	}
	w.onApply(mirrors)
	w.logger.Info().
		Str("event", "mirrors.reload_success").
		Msg("mirror lists reloaded")
}
