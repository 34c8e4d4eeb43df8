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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClassifyTaskStatus(t *testing.T) {
	cases := []struct {
		status string
		want   PollStatus
	}{
		{"SUBMITTING", TaskPending},
		{"WAITING", TaskPending},
		{"PROCESSING", TaskPending},
		{"SCHEDULING", TaskPending},
		{"INITIALIZING", TaskPending},
		{"RESCHEDULED", TaskPending},
		{"RUNNING", TaskRunning},
		{"SUCCEEDED", TaskTerminal},
		{"FAILED", TaskTerminal},
		{"CANCELLED", TaskTerminal},
		{"", TaskTerminal},
	}
	for _, c := range cases {
		if got := ClassifyTaskStatus(c.status); got != c.want {
			t.Errorf("ClassifyTaskStatus(%q) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestDaemonPollTaskReturnsOnTerminalStatus(t *testing.T) {
	d := &Daemon{
		PollInterval: 5 * time.Millisecond,
		PollTask: func(ctx context.Context) (string, error) {
			return "SUCCEEDED", nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.pollTask(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("pollTask() error = %v, want nil on terminal status", err)
		}
	case <-ctx.Done():
		t.Fatal("pollTask() did not return after a terminal status")
	}
}

func TestDaemonMonitorPidFileExitsWhenOwnershipLost(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "task.pid")
	if err := WriteMetadata(pidPath, Metadata{PID: 999999}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	d := &Daemon{
		PidFilePath:  pidPath,
		PollInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.monitorPidFile(ctx); err == nil {
		t.Fatal("expected an error when the pid file is owned by another process")
	}
}

func TestDaemonRunExitsOnTerminalTaskStatus(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "task.pid")
	if err := WriteMetadata(pidPath, Metadata{PID: os.Getpid()}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	d := &Daemon{
		PidFilePath:  pidPath,
		PollInterval: 5 * time.Millisecond,
		PollTask: func(ctx context.Context) (string, error) {
			return "SUCCEEDED", nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on terminal task status", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not exit after the task reached a terminal status")
	}
}

func TestDaemonRunExitsWhenPidOwnershipLost(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "task.pid")
	if err := WriteMetadata(pidPath, Metadata{PID: 999999}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	d := &Daemon{
		PidFilePath:  pidPath,
		PollInterval: 5 * time.Millisecond,
		PollTask: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run() error = nil, want an error when pid file ownership is lost")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not exit after pid file ownership was lost")
	}
}

func TestDaemonMonitorPidFileStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "task.pid")
	if err := WriteMetadata(pidPath, Metadata{PID: os.Getpid()}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	d := &Daemon{
		PidFilePath:  pidPath,
		PollInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.monitorPidFile(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("monitorPidFile() error = %v, want nil on context cancellation", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("monitorPidFile() did not return after cancellation")
	}
}
