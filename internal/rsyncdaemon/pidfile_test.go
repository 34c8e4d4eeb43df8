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

package rsyncdaemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NVIDIA/OSMO-sub002/internal/rsyncengine"
)

func TestPidFilePathAndLogFilePath(t *testing.T) {
	pid := PidFilePath("/state/rsync", "wf-1", "task-a")
	want := filepath.Join("/state/rsync", "rsync_daemon_wf-1_task-a.pid")
	if pid != want {
		t.Errorf("PidFilePath() = %q, want %q", pid, want)
	}
	log := LogFilePath(pid)
	if filepath.Ext(log) != ".log" {
		t.Errorf("LogFilePath() = %q, want a .log path", log)
	}
}

func TestWriteAndReadMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")
	want := Metadata{
		PID:       os.Getpid(),
		Request:   rsyncengine.Request{WorkflowID: "wf-1", TaskName: "task-a", DstModule: "osmo"},
		StartTime: time.Now().Truncate(time.Second),
	}
	if err := WriteMetadata(path, want); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	got, err := ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if got.PID != want.PID || got.Request.WorkflowID != want.Request.WorkflowID {
		t.Errorf("ReadMetadata() = %+v, want %+v", got, want)
	}
}

func TestReadMetadataMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadMetadata(filepath.Join(dir, "missing.pid")); !os.IsNotExist(err) {
		t.Errorf("expected os.IsNotExist, got %v", err)
	}
}

func TestValidateNoExistingDaemonAbsentFile(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateNoExistingDaemon(filepath.Join(dir, "missing.pid")); err != nil {
		t.Errorf("ValidateNoExistingDaemon() error = %v, want nil for an absent file", err)
	}
}

func TestValidateNoExistingDaemonRejectsLiveProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.pid")
	if err := WriteMetadata(path, Metadata{PID: os.Getpid()}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	if err := ValidateNoExistingDaemon(path); err == nil {
		t.Error("expected an error when the PID file points at this (live) process")
	}
}

func TestValidateNoExistingDaemonAllowsDeadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dead.pid")
	// PID 999999 is extremely unlikely to be alive in any test environment.
	if err := WriteMetadata(path, Metadata{PID: 999999}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	if err := ValidateNoExistingDaemon(path); err != nil {
		t.Errorf("ValidateNoExistingDaemon() error = %v, want nil for a dead PID", err)
	}
}

func TestRemovePidFileTolerantOfAbsence(t *testing.T) {
	dir := t.TempDir()
	if err := RemovePidFile(filepath.Join(dir, "missing.pid")); err != nil {
		t.Errorf("RemovePidFile() error = %v, want nil for an absent file", err)
	}
}

func TestListDaemonsFiltersByWorkflowAndTask(t *testing.T) {
	dir := t.TempDir()
	p1 := PidFilePath(dir, "wf-1", "task-a")
	p2 := PidFilePath(dir, "wf-2", "task-b")
	if err := WriteMetadata(p1, Metadata{PID: 999999, Request: rsyncengine.Request{WorkflowID: "wf-1", TaskName: "task-a"}}); err != nil {
		t.Fatal(err)
	}
	if err := WriteMetadata(p2, Metadata{PID: 999998, Request: rsyncengine.Request{WorkflowID: "wf-2", TaskName: "task-b"}}); err != nil {
		t.Fatal(err)
	}

	all, err := ListDaemons(dir, "", "")
	if err != nil {
		t.Fatalf("ListDaemons() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d daemons, want 2", len(all))
	}

	filtered, err := ListDaemons(dir, "wf-1", "task-a")
	if err != nil {
		t.Fatalf("ListDaemons() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].Metadata.Request.WorkflowID != "wf-1" {
		t.Errorf("ListDaemons(wf-1, task-a) = %+v, want exactly the wf-1 entry", filtered)
	}
	if filtered[0].Status != StatusStopped {
		t.Errorf("Status = %v, want StatusStopped for a dead PID", filtered[0].Status)
	}
}
