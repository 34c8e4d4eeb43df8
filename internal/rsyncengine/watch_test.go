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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebounceTimerCoalescesBursts(t *testing.T) {
	var fires int32
	d := &DebounceTimer{
		Delay: 20 * time.Millisecond,
		Fire:  func() { atomic.AddInt32(&fires, 1) },
	}
	for i := 0; i < 5; i++ {
		d.Reset()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&fires); got != 1 {
		t.Errorf("fires = %d, want exactly 1 after a coalesced burst", got)
	}
}

func TestDebounceTimerStopCancelsPendingFire(t *testing.T) {
	var fires int32
	d := &DebounceTimer{
		Delay: 10 * time.Millisecond,
		Fire:  func() { atomic.AddInt32(&fires, 1) },
	}
	d.Reset()
	d.Stop()
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&fires); got != 0 {
		t.Errorf("fires = %d, want 0 after Stop", got)
	}
}

func TestWorkspaceObserverFiresOnWrite(t *testing.T) {
	dir := t.TempDir()

	done := make(chan struct{}, 1)
	debounce := &DebounceTimer{
		Delay: 10 * time.Millisecond,
		Fire:  func() { select { case done <- struct{}{}: default: } },
	}

	observer, err := NewWorkspaceObserver(dir, debounce, nil)
	if err != nil {
		t.Fatalf("NewWorkspaceObserver() error = %v", err)
	}
	defer observer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go observer.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("expected the debounced fire to run after a file write")
	}
}
