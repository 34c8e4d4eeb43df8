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
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NVIDIA/OSMO-sub002/internal/common"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/tunnel"
)

const rsyncFlags = "-av"

// ResolveLoopbackPort picks a free loopback TCP port for the rsync tunnel by
// briefly binding to port 0 and releasing it. Benign TOCTOU: a concurrent
// bind could in principle win the race, but in this single-user CLI client
// the window is negligible. On the (rare) collision ServeTCPPortForward
// fails to bind and returns that error; it is not retried.
func ResolveLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// UploadCounter is the pending/completed pair that lets concurrent upload()
// calls coalesce: a caller that finds an upload already in flight just bumps
// pending and returns; the reconciler restores completed == pending.
type UploadCounter struct {
	mu        sync.Mutex
	pending   int
	completed int
}

func (c *UploadCounter) bumpPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending++
	return c.pending
}

func (c *UploadCounter) markCompleted(upTo int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if upTo > c.completed {
		c.completed = upTo
	}
}

func (c *UploadCounter) isDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed < c.pending
}

func (c *UploadCounter) snapshot() (pending, completed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.completed
}

// UploadCallback is invoked after every successful upload, used by the
// daemon supervisor to stamp RsyncDaemonMetadata.LastSynced.
type UploadCallback func(t time.Time)

// Engine is the Rsync Engine: one loopback TCP tunnel plus an upload
// counter and reconciler loop for a single Request.
type Engine struct {
	Request  Request
	Session  *tunnel.Session
	Host     string
	Port     int
	RsyncBin string
	Logger   *slog.Logger

	ReconcileInterval time.Duration
	UploadCallback    UploadCallback

	counter   UploadCounter
	uploadMu  sync.Mutex
	tail      *common.CircularBuffer
	stopCh    chan struct{}
	stopOnce  sync.Once
	tcpReady  chan struct{}
	readyOnce sync.Once
}

// New constructs an Engine bound to an already-resolved loopback port. The
// caller is responsible for having started the tunnel's TCP port-forward
// loop against this port before calling Start.
func New(req Request, session *tunnel.Session, host string, port int, rsyncBin string, logger *slog.Logger) *Engine {
	return &Engine{
		Request:           req,
		Session:           session,
		Host:              host,
		Port:              port,
		RsyncBin:          rsyncBin,
		Logger:            logger,
		ReconcileInterval: 60 * time.Second,
		tail:              common.NewCircularBuffer(50),
		stopCh:            make(chan struct{}),
		tcpReady:          make(chan struct{}),
	}
}

// MarkTCPReady signals that the loopback tunnel is up; Start and the
// reconciler loop both wait on this.
func (e *Engine) MarkTCPReady() {
	e.readyOnce.Do(func() { close(e.tcpReady) })
}

// Start waits for the tunnel to come up (or ctx/stop), enumerates the
// rsync daemon's modules, and validates the request's destination module is
// among them.
func (e *Engine) Start(ctx context.Context, readyTimeout time.Duration) error {
	select {
	case <-e.tcpReady:
	case <-time.After(readyTimeout):
		return &osmoerrors.ServerError{Message: "timed out waiting for rsync tunnel to come up"}
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return nil
	}

	modules, err := e.ListModules(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, m := range modules {
		if m == e.Request.DstModule {
			found = true
			break
		}
	}
	if !found {
		return &osmoerrors.UserError{Message: fmt.Sprintf("module %q not served by rsync daemon; available: %s", e.Request.DstModule, strings.Join(modules, ", "))}
	}

	go e.reconcileLoop(ctx)
	return nil
}

// Stop idempotently tears down the engine's background loops.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.Session != nil {
		e.Session.Stop()
	}
}

// ListModules runs `rsync rsync://127.0.0.1:<port>` to enumerate the
// modules the daemon currently serves.
func (e *Engine) ListModules(ctx context.Context) ([]string, error) {
	target := fmt.Sprintf("rsync://%s:%d", e.Host, e.Port)
	cmd := exec.CommandContext(ctx, e.RsyncBin, target)
	out, err := cmd.Output()
	if err != nil {
		return nil, &osmoerrors.ServerError{Message: fmt.Sprintf("listing rsync modules: %v", err)}
	}
	var modules []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			modules = append(modules, fields[0])
		}
	}
	return modules, nil
}

// Upload requests an upload. If one is already in flight, it bumps the
// pending counter and returns immediately; the reconciler loop coalesces
// the deferred work into the next run.
func (e *Engine) Upload(ctx context.Context) error {
	target := e.counter.bumpPending()
	if !e.uploadMu.TryLock() {
		return nil
	}
	defer e.uploadMu.Unlock()
	return e.runUpload(ctx, target)
}

// runUpload executes the rsync subprocess and advances the completed
// counter to target on success.
func (e *Engine) runUpload(ctx context.Context, target int) error {
	dest := fmt.Sprintf("rsync://%s:%d/%s/%s", e.Host, e.Port, e.Request.DstModule, e.Request.DstPath)
	cmd := exec.CommandContext(ctx, e.RsyncBin, rsyncFlags, e.Request.Src, dest)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := common.RunCommand(cmd, e.tail, e.Logger); err != nil {
		return &osmoerrors.ServerError{Message: fmt.Sprintf("rsync upload failed: %v; last output: %s", err, strings.Join(e.tail.Lines(), " | "))}
	}

	e.counter.markCompleted(target)
	if e.UploadCallback != nil {
		e.UploadCallback(time.Now())
	}
	return nil
}

// reconcileLoop wakes on tcpReady-already-closed ticks of ReconcileInterval
// (or Stop) and, if the upload mutex is free and completed < pending,
// triggers an upload to restore the "all-pending-fulfilled" invariant.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.counter.isDirty() {
				continue
			}
			if !e.uploadMu.TryLock() {
				continue
			}
			pending, _ := e.counter.snapshot()
			if err := e.runUpload(ctx, pending); err != nil && e.Logger != nil {
				e.Logger.Warn("reconcile upload failed", "error", err)
			}
			e.uploadMu.Unlock()
		}
	}
}
