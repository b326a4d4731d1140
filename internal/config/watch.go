// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// =============================================================================
// FILE WATCHER
// =============================================================================

// reloadSettle coalesces the write bursts editors produce when saving.
const reloadSettle = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path    string
	fs      *fsnotify.Watcher
	log     zerolog.Logger
	updates chan *Config
	done    chan struct{}
}

// Watch starts watching the config file at path. Each successful reload
// is delivered on Updates; invalid intermediate states are logged and
// skipped. The parent directory is watched so atomic rename saves are
// seen too.
func Watch(path string, log zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		fs:      fs,
		log:     log.With().Str("component", "config").Logger(),
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Updates returns the channel of reloaded configurations.
func (w *Watcher) Updates() <-chan *Config { return w.updates }

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	var settle *time.Timer
	settleC := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(reloadSettle, func() {
				select {
				case settleC <- struct{}{}:
				default:
				}
			})
		case <-settleC:
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("config reload skipped")
		return
	}
	// Keep only the newest pending update.
	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg
	w.log.Info().Msg("config reloaded")
}
