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

// Package rsyncdaemon is the Rsync Daemon Supervisor: forks a detached
// daemon process, maintains a JSON PID file with live metadata, watches for
// PID ownership loss, and handles graceful shutdown.
package rsyncdaemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/rsyncengine"
	"github.com/NVIDIA/OSMO-sub002/utils"
)

// Metadata is RsyncDaemonMetadata: {pid, rsync_request, start_time,
// last_synced?}, persisted as JSON in the PID file.
type Metadata struct {
	PID        int                    `json:"pid"`
	Request    rsyncengine.Request    `json:"rsync_request"`
	StartTime  time.Time              `json:"start_time"`
	LastSynced *time.Time             `json:"last_synced,omitempty"`
}

// PidFilePath returns <rsyncStateDir>/rsync_daemon_<wf>_<task>.pid.
func PidFilePath(rsyncStateDir, workflowID, taskName string) string {
	return filepath.Join(rsyncStateDir, fmt.Sprintf("rsync_daemon_%s_%s.pid", workflowID, taskName))
}

// LogFilePath returns the sibling .log file for a PID file.
func LogFilePath(pidFilePath string) string {
	return pidFilePath[:len(pidFilePath)-len(filepath.Ext(pidFilePath))] + ".log"
}

// ReadMetadata reads and parses a PID file, returning os.ErrNotExist when
// absent (the invariant is: the file exists iff a daemon is expected alive).
func ReadMetadata(path string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

// WriteMetadata atomically persists m to path under an advisory file lock,
// so concurrent writers are serialized. Readers (ReadMetadata,
// ValidateNoExistingDaemon, the ownership monitor) do not take the lock;
// the atomic rename is what keeps them from seeing a partial file.
// Generalizes the teacher's own racy syscall.Signal(0) liveness poll
// (runtime/pkg/rsync/rsync.go) with a held lock instead.
func WriteMetadata(path string, m Metadata) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return utils.AtomicWriteFile(path, data, 0o644)
}

// IsProcessRunning reports whether pid refers to a live process, using a
// zero-signal liveness probe.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// ValidateNoExistingDaemon refuses to proceed if path's PID file points at a
// live process, per the single-instance invariant.
func ValidateNoExistingDaemon(path string) error {
	m, err := ReadMetadata(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if IsProcessRunning(m.PID) {
		return &osmoerrors.UserError{Message: fmt.Sprintf("rsync daemon already running for this destination (pid %d)", m.PID)}
	}
	return nil
}

// RemovePidFile deletes the PID file, tolerating its absence.
func RemovePidFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	os.Remove(path + ".lock")
	return err
}

// DaemonStatus classifies a PID file as RUNNING or STOPPED.
type DaemonStatus string

const (
	StatusRunning DaemonStatus = "RUNNING"
	StatusStopped DaemonStatus = "STOPPED"
)

// DaemonInfo pairs a PID file's parsed metadata with its liveness
// classification, for `osmo workflow rsync --status`.
type DaemonInfo struct {
	Metadata Metadata
	Status   DaemonStatus
	Path     string
}

// ListDaemons scans rsyncStateDir for PID files and classifies each,
// optionally filtered by workflowID/taskName (either may be "" to mean
// "any").
func ListDaemons(rsyncStateDir, workflowID, taskName string) ([]DaemonInfo, error) {
	entries, err := os.ReadDir(rsyncStateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []DaemonInfo
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".pid" {
			continue
		}
		path := filepath.Join(rsyncStateDir, name)
		m, err := ReadMetadata(path)
		if err != nil {
			continue
		}
		if workflowID != "" && m.Request.WorkflowID != workflowID {
			continue
		}
		if taskName != "" && m.Request.TaskName != taskName {
			continue
		}
		status := StatusStopped
		if IsProcessRunning(m.PID) {
			status = StatusRunning
		}
		infos = append(infos, DaemonInfo{Metadata: m, Status: status, Path: path})
	}
	return infos, nil
}
