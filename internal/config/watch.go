// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file from disk whenever it changes and
// installs the result as the process-wide active configuration via Set.
//
// # Thread Safety
//
// Safe for concurrent use; Close may be called once from any goroutine.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	onEvery func(*ProverConfig)
}

// WatchFile starts watching path for writes, reloading and validating its
// contents on every change and installing the result via Set. onChange, if
// non-nil, is additionally invoked with every successfully reloaded config.
// The returned Watcher must be closed by the caller when no longer needed.
func WatchFile(ctx context.Context, path string, logger *slog.Logger, onChange func(*ProverConfig)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, fsw: fsw, logger: logger, onEvery: onChange}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload: read failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	cfg, err := Load(data)
	if err != nil {
		w.logger.Warn("config reload: validation failed, keeping previous configuration",
			slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	Set(cfg)
	w.logger.Info("configuration reloaded", slog.String("path", w.path))
	if w.onEvery != nil {
		w.onEvery(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
