/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package rsyncengine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceTimer coalesces a burst of events into a single scheduled fire a
// fixed delay after the latest event: any Reset within Delay of the
// previous one cancels the pending fire and reschedules.
type DebounceTimer struct {
	Delay time.Duration
	Fire  func()

	mu    sync.Mutex
	timer *time.Timer
}

// Reset (re)schedules Fire to run Delay from now, cancelling any
// previously-scheduled fire.
func (d *DebounceTimer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.Delay, d.Fire)
}

// Stop cancels any pending fire.
func (d *DebounceTimer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// WorkspaceObserver watches src recursively for create/modify events on
// files and directories, feeding them into a debounce timer. Delete and
// rename events are intentionally dropped: rsync -av is append-oriented in
// this design (spec.md §9 design notes), so there is nothing useful to sync
// on a removal.
type WorkspaceObserver struct {
	watcher *fsnotify.Watcher
	debounce *DebounceTimer
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewWorkspaceObserver creates a watcher rooted at src, recursively adding
// every existing subdirectory.
func NewWorkspaceObserver(src string, debounce *DebounceTimer, logger *slog.Logger) (*WorkspaceObserver, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addRecursive(watcher, src); err != nil {
		watcher.Close()
		return nil, err
	}

	return &WorkspaceObserver{
		watcher:  watcher,
		debounce: debounce,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// Run dispatches fsnotify events into the debounce timer until ctx is
// cancelled or Stop is called.
func (o *WorkspaceObserver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.watcher.Close()
			return
		case <-o.stopCh:
			o.watcher.Close()
			return
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if ev.Has(fsnotify.Create) {
					if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
						o.watcher.Add(ev.Name)
					}
				}
				o.debounce.Reset()
			}
			// Remove/Rename are intentionally ignored.
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			if o.logger != nil {
				o.logger.Warn("workspace observer error", "error", err)
			}
		}
	}
}

// Stop terminates the observer's Run loop.
func (o *WorkspaceObserver) Stop() {
	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
}
