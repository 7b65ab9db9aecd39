// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/modelwatch/internal/tracking"
)

// debounceWindow coalesces bursts of filesystem events (a download produces
// create + several writes + a rename) into one rescan.
const debounceWindow = 500 * time.Millisecond

// Watcher keeps the store's library-membership flags in sync with the
// filesystem: whenever a library root changes, it rescans and pushes the
// held version set through Store.UpdateInLibraryVersions. No remote call is
// involved; HasUpdate reflects local additions and removals immediately.
type Watcher struct {
	scanner *DirScanner
	store   *tracking.Store
	fsw     *fsnotify.Watcher
}

// NewWatcher creates a watcher over the scanner's roots.
func NewWatcher(scanner *DirScanner, store *tracking.Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{scanner: scanner, store: store, fsw: fsw}
	for _, root := range scanner.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return fsw.Add(path)
			}
			return nil
		})
		if err != nil {
			log.Warnf("watcher: cannot watch root %s: %v", root, err)
		}
	}
	return w, nil
}

// Start runs the watch loop until ctx is cancelled. An initial sync runs
// immediately so the store reflects the library as of startup.
func (w *Watcher) Start(ctx context.Context) {
	w.sync(ctx)

	go func() {
		defer w.fsw.Close()
		var timer *time.Timer
		pending := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			case <-pending:
				log.Debug("library changed, resyncing membership flags")
				w.sync(ctx)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				log.Warnf("watcher error: %v", err)
			}
		}
	}()
}

// sync rescans the library and rewrites membership flags: models the scan
// finds get their held set replaced, and models the store still marks as held
// but the scan no longer sees get their flags cleared.
func (w *Watcher) sync(ctx context.Context) {
	local, err := w.scanner.Scan()
	if err != nil {
		log.Errorf("library scan failed: %v", err)
		return
	}
	seen := make(map[string]map[int64]bool)
	for modelType, models := range local {
		byModel := make(map[int64][]int64)
		for _, m := range models {
			byModel[m.ModelID] = append(byModel[m.ModelID], m.VersionID)
		}
		seen[modelType] = make(map[int64]bool, len(byModel))
		for modelID, versionIDs := range byModel {
			seen[modelType][modelID] = true
			if err := w.store.UpdateInLibraryVersions(ctx, modelType, modelID, versionIDs); err != nil {
				log.Warnf("failed to sync membership for %s/%d: %v", modelType, modelID, err)
			}
		}
	}

	stored, err := w.store.InLibraryModels(ctx)
	if err != nil {
		log.Warnf("failed to list held models: %v", err)
		return
	}
	for modelType, modelIDs := range stored {
		for _, modelID := range modelIDs {
			if seen[modelType][modelID] {
				continue
			}
			log.Debugf("model %s/%d left the library, clearing held flags", modelType, modelID)
			if err := w.store.UpdateInLibraryVersions(ctx, modelType, modelID, nil); err != nil {
				log.Warnf("failed to clear membership for %s/%d: %v", modelType, modelID, err)
			}
		}
	}
}
