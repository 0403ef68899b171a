// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/storage"
)

// =============================================================================
// CREDENTIALS FILE WATCHER
// =============================================================================

// defaultDebounce coalesces the burst of events an editor save produces.
const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the credentials file when it changes on disk and
// re-runs the idempotent user bootstrap, so new users become usable
// without a restart.
type Watcher struct {
	path          string
	store         *storage.Store
	defaultCredit float64
	log           *zap.Logger

	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	creds   *Credentials
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the credentials file. The initial
// Credentials are kept so Current works before the first change.
func NewWatcher(path string, creds *Credentials, store *storage.Store, defaultCredit float64, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:          path,
		store:         store,
		defaultCredit: defaultCredit,
		log:           log,
		watcher:       fw,
		debounce:      defaultDebounce,
		creds:         creds,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Watch starts watching for credentials file changes.
//
// The parent directory is watched rather than the file itself: editors
// and config tooling typically replace the file, which breaks a direct
// file watch.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.processEvents()
	go w.processPending()
	return nil
}

// Current returns the most recently loaded credentials.
func (w *Watcher) Current() *Credentials {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.creds
}

// processEvents marks the file pending on relevant fs events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("credentials watcher error", zap.Error(err))
		}
	}
}

// processPending reloads once the debounce window has elapsed.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

// reload parses the file and re-runs the bootstrap. A broken file keeps
// the previous credentials in effect.
func (w *Watcher) reload() {
	creds, err := LoadCredentials(w.path)
	if err != nil {
		w.log.Warn("credentials reload failed, keeping previous",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	if err := creds.Bootstrap(w.ctx, w.store, w.defaultCredit, w.log); err != nil {
		w.log.Error("user bootstrap after reload failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.creds = creds
	w.mu.Unlock()

	w.log.Info("credentials reloaded",
		zap.String("path", w.path),
		zap.Int("users", len(creds.Users())))
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
