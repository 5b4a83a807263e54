// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sourcewatch invalidates cached answers when a transcript
// file changes on disk.
//
// A [Watcher] monitors one directory with fsnotify. Events for the same
// file are debounced, then the file is fingerprinted with BLAKE3 and
// compared to the last fingerprint seen. Only a real content change
// (or a removal) reaches the [Invalidator], so editors that rewrite a
// file without changing it do not flush the cache.
//
// The source id passed to the invalidator is the file's base name
// without its extension: "lesson-04.vtt" invalidates "lesson-04".
package sourcewatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/chatcore/lib/clock"
)

// DefaultDebounce is the quiet period after the last event for a
// file before it is fingerprinted.
const DefaultDebounce = 500 * time.Millisecond

// Invalidator drops cached entries for a source. *cache.Cache
// satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, sourceID string) (int, error)
}

// Fingerprint is a BLAKE3 digest of file content.
type Fingerprint [32]byte

// FingerprintOf hashes data.
func FingerprintOf(data []byte) Fingerprint {
	return Fingerprint(blake3.Sum256(data))
}

// SourceID maps a transcript path to the source id it holds.
func SourceID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Directory is watched non-recursively.
	Directory string

	Invalidator Invalidator

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Extensions limits the watched files, e.g. [".vtt", ".txt"].
	// Empty watches every file. Hidden files are always ignored.
	Extensions []string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Watcher watches a transcript directory. Create it with New and
// start it with Run.
type Watcher struct {
	directory   string
	invalidator Invalidator
	debounce    time.Duration
	extensions  map[string]bool
	clock       clock.Clock
	logger      *slog.Logger

	// fingerprints is owned by the Run goroutine.
	fingerprints map[string]Fingerprint
	ready        chan struct{}
}

// New validates cfg and returns a Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Directory == "" {
		return nil, errors.New("sourcewatch: Directory is required")
	}
	if cfg.Invalidator == nil {
		return nil, errors.New("sourcewatch: Invalidator is required")
	}
	w := &Watcher{
		directory:    cfg.Directory,
		invalidator:  cfg.Invalidator,
		debounce:     cfg.Debounce,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		fingerprints: make(map[string]Fingerprint),
		ready:        make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.clock == nil {
		w.clock = clock.Real()
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	if len(cfg.Extensions) > 0 {
		w.extensions = make(map[string]bool, len(cfg.Extensions))
		for _, extension := range cfg.Extensions {
			w.extensions[strings.ToLower(extension)] = true
		}
	}
	return w, nil
}

// Ready is closed once the directory is watched and its existing
// files are fingerprinted.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. It returns an error only if the
// directory cannot be watched.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sourcewatch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.directory); err != nil {
		return fmt.Errorf("sourcewatch: watching %s: %w", w.directory, err)
	}
	if err := w.scan(); err != nil {
		return err
	}
	w.logger.Info("watching transcripts",
		"directory", w.directory,
		"files", len(w.fingerprints),
	)
	close(w.ready)

	pending := make(map[string]time.Time)
	var wake <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			pending[event.Name] = w.clock.Now().Add(w.debounce)
			if wake == nil {
				wake = w.clock.After(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("transcript watcher error", "directory", w.directory, "error", err)

		case <-wake:
			wake = nil
			now := w.clock.Now()
			var earliest time.Time
			for path, due := range pending {
				if due.After(now) {
					if earliest.IsZero() || due.Before(earliest) {
						earliest = due
					}
					continue
				}
				delete(pending, path)
				w.settle(ctx, path)
			}
			if !earliest.IsZero() {
				wake = w.clock.After(earliest.Sub(now))
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return w.watched(event.Name)
}

func (w *Watcher) watched(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if w.extensions == nil {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(base))]
}

// scan fingerprints the files already in the directory.
func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.directory)
	if err != nil {
		return fmt.Errorf("sourcewatch: reading %s: %w", w.directory, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(w.directory, entry.Name())
		if !w.watched(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("fingerprinting transcript failed", "path", path, "error", err)
			continue
		}
		w.fingerprints[path] = FingerprintOf(data)
	}
	return nil
}

// settle compares the file's current content with its last
// fingerprint and invalidates the source when it changed.
func (w *Watcher) settle(ctx context.Context, path string) {
	previous, known := w.fingerprints[path]

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !known {
			return
		}
		delete(w.fingerprints, path)
	case err != nil:
		w.logger.Warn("fingerprinting transcript failed", "path", path, "error", err)
		return
	default:
		current := FingerprintOf(data)
		if known && current == previous {
			w.logger.Debug("transcript unchanged", "path", path)
			return
		}
		w.fingerprints[path] = current
	}

	sourceID := SourceID(path)
	removed, err := w.invalidator.Invalidate(ctx, sourceID)
	if err != nil {
		w.logger.Warn("cache invalidation failed", "source_id", sourceID, "error", err)
		return
	}
	w.logger.Info("transcript changed, cache invalidated",
		"source_id", sourceID,
		"path", path,
		"entries", removed,
	)
}
