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

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/OSMO-sub002/internal/common"
	"github.com/NVIDIA/OSMO-sub002/internal/config"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/rsyncdaemon"
	"github.com/NVIDIA/OSMO-sub002/internal/rsyncengine"
	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
	"github.com/NVIDIA/OSMO-sub002/internal/tunnel"
)

func newRsyncCmd() *cobra.Command {
	var (
		once              bool
		status            bool
		stop              bool
		timeoutSec        int
		uploadRateLimit   int64
		pollInterval      int
		debounceDelay     int
		reconcileInterval int
		maxLogSize        int64
		verbose           bool
	)

	cmd := &cobra.Command{
		Use:   "rsync [wfid] [task] [src:dst]",
		Short: "Continuously sync a local directory into a running task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status {
				return runRsyncStatus(args)
			}
			if stop {
				return runRsyncStop(args)
			}
			if len(args) != 3 {
				return &osmoerrors.UserError{Message: "rsync requires <wfid> <task> <src:dst>"}
			}
			wfID, task, srcDst := args[0], args[1], args[2]

			if os.Getenv(rsyncdaemon.ReexecEnvVar) != "" {
				return runRsyncDaemonChild(wfID, task, debounceDelay, pollInterval, reconcileInterval, uploadRateLimit, maxLogSize)
			}

			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			req, err := rsyncengine.ParseRequest(wfID, task, srcDst, nil)
			if err != nil {
				return err
			}

			rsyncDir, err := config.RsyncStateDir()
			if err != nil {
				return err
			}
			pidPath := rsyncdaemon.PidFilePath(rsyncDir, wfID, task)
			if err := rsyncdaemon.ValidateNoExistingDaemon(pidPath); err != nil {
				return err
			}

			if once {
				ctx, cancel := signalContext()
				defer cancel()
				engine, tearDown, err := buildEngine(ctx, app, req, uploadRateLimit, time.Duration(reconcileInterval)*time.Second, time.Duration(timeoutSec)*time.Second)
				if err != nil {
					return err
				}
				defer tearDown()
				return engine.Upload(ctx)
			}

			pid, logPath, err := startDaemon(pidPath, req, os.Args)
			if err != nil {
				return err
			}
			fmt.Printf("rsync daemon started (pid %d), logging to %s\n", pid, logPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "perform a single synchronous upload and exit")
	cmd.Flags().BoolVar(&status, "status", false, "list running rsync daemons")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop a running rsync daemon")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 30, "seconds to wait for the tunnel to come up")
	cmd.Flags().Int64Var(&uploadRateLimit, "upload-rate-limit", 0, "bytes/sec cap on upload throughput, 0 for unlimited")
	cmd.Flags().IntVar(&pollInterval, "poll-interval", 5, "seconds between task-status polls")
	cmd.Flags().IntVar(&debounceDelay, "debounce-delay", 2, "seconds to coalesce filesystem events before uploading")
	cmd.Flags().IntVar(&reconcileInterval, "reconcile-interval", 60, "seconds between reconciliation sweeps")
	cmd.Flags().Int64Var(&maxLogSize, "max-log-size", rsyncdaemon.DefaultMaxLogSize, "daemon log rotation threshold in bytes")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "accepted but not read; daemon log verbosity follows --log-level")
	return cmd
}

func timeNow() time.Time { return time.Now() }

// startDaemon writes the PID file with a placeholder PID, forks the
// detached daemon child with argv, and rewrites the PID file with the real
// child PID, returning it. Shared by the standalone `rsync` command and
// submit's `--rsync` kick-off.
func startDaemon(pidPath string, req rsyncengine.Request, argv []string) (pid int, logPath string, err error) {
	if err := rsyncdaemon.ValidateNoExistingDaemon(pidPath); err != nil {
		return 0, "", err
	}
	if err := rsyncdaemon.WriteMetadata(pidPath, rsyncdaemon.Metadata{PID: os.Getpid(), Request: req, StartTime: timeNow()}); err != nil {
		return 0, "", err
	}
	logPath = rsyncdaemon.LogFilePath(pidPath)
	pid, err = rsyncdaemon.Fork(argv, logPath)
	if err != nil {
		rsyncdaemon.RemovePidFile(pidPath)
		return 0, "", err
	}
	if err := rsyncdaemon.WriteMetadata(pidPath, rsyncdaemon.Metadata{PID: pid, Request: req, StartTime: timeNow()}); err != nil {
		return 0, "", err
	}
	return pid, logPath, nil
}

// startRsyncDaemonForSubmission implements submit's `--rsync task:src:dst`
// kick-off (spec.md §4.3 step 8): parse the task-qualified spec and fork a
// daemon against the just-submitted workflow, the same way the standalone
// `rsync` command does.
func startRsyncDaemonForSubmission(ctx context.Context, app *appContext, workflowID, taskQualifiedSpec string) error {
	task, srcDst, err := tunnel.SplitSrcDst(taskQualifiedSpec)
	if err != nil {
		return &osmoerrors.UserError{Message: "--rsync must be of the form task:src:dst"}
	}
	req, err := rsyncengine.ParseRequest(workflowID, task, srcDst, nil)
	if err != nil {
		return err
	}
	rsyncDir, err := config.RsyncStateDir()
	if err != nil {
		return err
	}
	pidPath := rsyncdaemon.PidFilePath(rsyncDir, workflowID, task)
	// The daemon child re-execs as a standalone "workflow rsync" invocation,
	// not submit's own argv: submit's argv kicks this off as a side effect,
	// but the detached process must parse args the rsync command expects.
	argv := []string{os.Args[0], "workflow", "rsync", workflowID, task, srcDst}
	pid, logPath, err := startDaemon(pidPath, req, argv)
	if err != nil {
		return err
	}
	fmt.Printf("rsync daemon started (pid %d), logging to %s\n", pid, logPath)
	return nil
}

func buildEngine(ctx context.Context, app *appContext, req rsyncengine.Request, rateLimit int64, reconcileInterval, readyTimeout time.Duration) (*rsyncengine.Engine, func(), error) {
	params, err := tunnel.RequestParams(ctx, app.Client, fmt.Sprintf("/api/workflow/%s/rsync/task/%s", req.WorkflowID, req.TaskName), map[string]interface{}{
		"dst_module": req.DstModule,
	})
	if err != nil {
		return nil, nil, err
	}

	session := &tunnel.Session{Client: app.Client, Logger: app.Logger, Workflow: req.WorkflowID, WriteLimitBps: int(rateLimit)}
	local, err := rsyncengine.ResolveLoopbackPort()
	if err != nil {
		return nil, nil, err
	}

	rsyncBin := common.ResolveCommandPath("OSMO_RSYNC_BIN", "rsync", "/usr/bin/rsync")
	engine := rsyncengine.New(req, session, "127.0.0.1", local, rsyncBin, app.Logger)
	if reconcileInterval > 0 {
		engine.ReconcileInterval = reconcileInterval
	}

	go func() {
		pair := tunnel.PortPair{Local: local, Remote: 873}
		err := session.ServeTCPPortForward(ctx, "127.0.0.1", pair, func(ctx context.Context) (tunnel.Params, error) {
			return params, nil
		})
		if err != nil && app.Logger != nil {
			app.Logger.Warn("rsync tunnel ended", "error", err)
		}
	}()
	engine.MarkTCPReady()

	if err := engine.Start(ctx, readyTimeout); err != nil {
		session.Stop()
		return nil, nil, err
	}

	tearDown := func() {
		engine.Stop()
	}
	return engine, tearDown, nil
}

func runRsyncDaemonChild(wfID, task string, debounceDelaySec, pollIntervalSec, reconcileIntervalSec int, uploadRateLimit, maxLogSize int64) error {
	rsyncDir, err := config.RsyncStateDir()
	if err != nil {
		return err
	}
	pidPath := rsyncdaemon.PidFilePath(rsyncDir, wfID, task)
	logPath := rsyncdaemon.LogFilePath(pidPath)

	rotating, err := rsyncdaemon.NewRotatingFile(logPath, maxLogSize)
	if err != nil {
		return err
	}
	defer rotating.Close()

	app, err := newAuthenticatedContext()
	if err != nil {
		return err
	}

	var meta rsyncdaemon.Metadata
	for i := 0; i < 20; i++ {
		meta, err = rsyncdaemon.ReadMetadata(pidPath)
		if err == nil {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	if err != nil {
		return err
	}
	req := meta.Request

	daemon := &rsyncdaemon.Daemon{
		PidFilePath:  pidPath,
		SrcPath:      req.Src,
		DebounceFor:  time.Duration(debounceDelaySec) * time.Second,
		PollInterval: time.Duration(pollIntervalSec) * time.Second,
		Logger:       app.Logger,
		PollTask: func(ctx context.Context) (string, error) {
			raw, err := app.Client.Request(ctx, "GET", fmt.Sprintf("/api/workflow/%s/task/%s", req.WorkflowID, req.TaskName), serviceclient.RequestOpts{}, serviceclient.JSON)
			if err != nil {
				return "", err
			}
			m, _ := raw.(map[string]interface{})
			status, _ := m["status"].(string)
			return status, nil
		},
		BuildEngine: func(ctx context.Context) (*rsyncengine.Engine, error) {
			engine, _, err := buildEngine(ctx, app, req, uploadRateLimit, time.Duration(reconcileIntervalSec)*time.Second, 30*time.Second)
			if err != nil {
				return nil, err
			}
			engine.UploadCallback = func(t time.Time) {
				m, err := rsyncdaemon.ReadMetadata(pidPath)
				if err != nil || m.PID != os.Getpid() {
					return
				}
				m.LastSynced = &t
				if err := rsyncdaemon.WriteMetadata(pidPath, m); err != nil && app.Logger != nil {
					app.Logger.Warn("updating last_synced failed", "error", err)
				}
			}
			return engine, nil
		},
	}
	return daemon.Run(context.Background())
}

func runRsyncStatus(args []string) error {
	rsyncDir, err := config.RsyncStateDir()
	if err != nil {
		return err
	}
	wfID, task := "", ""
	if len(args) > 0 {
		wfID = args[0]
	}
	if len(args) > 1 {
		task = args[1]
	}
	daemons, err := rsyncdaemon.ListDaemons(rsyncDir, wfID, task)
	if err != nil {
		return err
	}
	if len(daemons) == 0 {
		fmt.Println("No rsync daemons found")
		return nil
	}
	for _, d := range daemons {
		fmt.Printf("%s/%s: %s (pid %d, started %s)\n", d.Metadata.Request.WorkflowID, d.Metadata.Request.TaskName, d.Status, d.Metadata.PID, d.Metadata.StartTime.Format(time.RFC3339))
	}
	return nil
}

// runRsyncStop signals all rsync daemons matching the optional
// [workflow_id] [task] filters (either may be omitted to mean "any"). With
// neither given, every running daemon matches, so it asks for confirmation
// first.
func runRsyncStop(args []string) error {
	wfID, task := "", ""
	if len(args) > 0 {
		wfID = args[0]
	}
	if len(args) > 1 {
		task = args[1]
	}

	rsyncDir, err := config.RsyncStateDir()
	if err != nil {
		return err
	}
	daemons, err := rsyncdaemon.ListDaemons(rsyncDir, wfID, task)
	if err != nil {
		return err
	}
	var running []rsyncdaemon.DaemonInfo
	for _, d := range daemons {
		if d.Status == rsyncdaemon.StatusRunning {
			running = append(running, d)
		}
	}
	if len(running) == 0 {
		fmt.Println("No rsync daemons found")
		return nil
	}

	if wfID == "" && task == "" {
		confirmed, err := confirmPrompt(fmt.Sprintf("Stop all %d running rsync daemons? [y/N] ", len(running)))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, d := range running {
		if err := unix.Kill(d.Metadata.PID, unix.SIGTERM); err != nil {
			fmt.Fprintf(os.Stderr, "%s/%s: %v\n", d.Metadata.Request.WorkflowID, d.Metadata.Request.TaskName, err)
			continue
		}
		fmt.Printf("%s/%s: stopped (pid %d)\n", d.Metadata.Request.WorkflowID, d.Metadata.Request.TaskName, d.Metadata.PID)
	}
	return nil
}

func confirmPrompt(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}
