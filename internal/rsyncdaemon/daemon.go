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
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/rsyncengine"
)

// ReexecEnvVar, when set in a child process's environment, signals that the
// process should run the foreground daemon loop (Daemon.Run, entered from
// the `workflow rsync` command) instead of re-forking — the detached
// daemon re-executes the same binary rather than requiring a true fork(2),
// which Go's runtime does not support safely. Double-fork semantics are not
// required (spec.md §9): the daemon only needs to be a detached child that
// doesn't share the parent's event loop.
const ReexecEnvVar = "OSMO_RSYNC_DAEMON_CHILD"

// Fork launches a detached copy of the current binary with
// ReexecEnvVar set, redirecting stdio to logPath, and returns once the
// child's PID is known. The caller (the CLI's foreground process) is
// expected to exit immediately after Fork succeeds.
func Fork(argv []string, logPath string) (pid int, err error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), ReexecEnvVar+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// PollStatus classifies a workflow task's lifecycle status string into
// {pending, running, terminal}, per spec.md §4.6's task poller.
type PollStatus int

const (
	TaskPending PollStatus = iota
	TaskRunning
	TaskTerminal
)

var pendingStatuses = map[string]bool{
	"SUBMITTING": true, "WAITING": true, "PROCESSING": true,
	"SCHEDULING": true, "INITIALIZING": true, "RESCHEDULED": true,
}

// ClassifyTaskStatus maps a server-reported task status string to a
// PollStatus.
func ClassifyTaskStatus(status string) PollStatus {
	if pendingStatuses[status] {
		return TaskPending
	}
	if status == "RUNNING" {
		return TaskRunning
	}
	return TaskTerminal
}

// Daemon runs inside the detached child process: PID-file monitor, task
// poller, and (once the task is running) an Engine plus filesystem
// observer.
type Daemon struct {
	PidFilePath string
	PollTask    func(ctx context.Context) (string, error)
	BuildEngine func(ctx context.Context) (*rsyncengine.Engine, error)
	SrcPath     string
	DebounceFor time.Duration
	PollInterval time.Duration
	Logger      *slog.Logger

	engine   *rsyncengine.Engine
	observer *rsyncengine.WorkspaceObserver
}

// Run is the daemon's main loop: installs signal handlers, then
// concurrently runs the PID-file monitor and the task poller until either
// requests shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	go func() {
		<-sigCh
		if d.Logger != nil {
			d.Logger.Info("received shutdown signal")
		}
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- d.monitorPidFile(ctx) }()
	go func() { errCh <- d.pollTask(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}
	d.shutdown()
	return runErr
}

// monitorPidFile re-reads the PID file every PollInterval; if its stored
// PID no longer equals getpid(), another process owns the file and this
// daemon must exit.
func (d *Daemon) monitorPidFile(ctx context.Context) error {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	self := os.Getpid()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m, err := ReadMetadata(d.PidFilePath)
			if err != nil {
				continue
			}
			if m.PID != self {
				if d.Logger != nil {
					d.Logger.Warn("pid file ownership lost, exiting", "file_pid", m.PID, "self", self)
				}
				return &osmoerrors.UserError{Message: "pid file no longer owned by this process"}
			}
		}
	}
}

// pollTask polls the workflow task's status; on first transition to
// running it builds the engine, performs an initial upload, and attaches
// the filesystem observer. On a terminal status it stops everything.
func (d *Daemon) pollTask(ctx context.Context) error {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status, err := d.PollTask(ctx)
			if err != nil {
				if d.Logger != nil {
					d.Logger.Warn("task poll failed", "error", err)
				}
				continue
			}
			switch ClassifyTaskStatus(status) {
			case TaskPending:
				continue
			case TaskRunning:
				if d.engine == nil {
					if err := d.handleRunning(ctx); err != nil {
						return err
					}
				}
			case TaskTerminal:
				return nil
			}
		}
	}
}

func (d *Daemon) handleRunning(ctx context.Context) error {
	engine, err := d.BuildEngine(ctx)
	if err != nil {
		return err
	}
	d.engine = engine

	if err := engine.Upload(ctx); err != nil && d.Logger != nil {
		d.Logger.Warn("initial upload failed", "error", err)
	}

	debounce := &rsyncengine.DebounceTimer{
		Delay: d.DebounceFor,
		Fire:  func() { engine.Upload(ctx) },
	}
	observer, err := rsyncengine.NewWorkspaceObserver(d.SrcPath, debounce, d.Logger)
	if err != nil {
		return fmt.Errorf("attaching filesystem observer: %w", err)
	}
	d.observer = observer
	go observer.Run(ctx)
	return nil
}

// shutdown tears down the engine and observer, flushes logs implicitly
// (the log file is closed by the caller), and removes the PID file.
func (d *Daemon) shutdown() {
	if d.observer != nil {
		d.observer.Stop()
	}
	if d.engine != nil {
		d.engine.Stop()
	}
	RemovePidFile(d.PidFilePath)
}
