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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/tunnel"
	"github.com/NVIDIA/OSMO-sub002/internal/workflow"
)

func newExecCmd() *cobra.Command {
	var (
		group          string
		entry          string
		connectTimeout int
		keepAlive      bool
	)
	cmd := &cobra.Command{
		Use:   "exec <wfid> [task]",
		Short: "Run an interactive (or group) exec session against a running task",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			wfID := args[0]

			var argv []string
			if entry != "" {
				argv, err = workflow.ParseEntryCommand(entry)
				if err != nil {
					return err
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			payload := map[string]interface{}{}
			if len(argv) > 0 {
				payload["entry"] = argv
			}

			if group != "" {
				params, err := tunnel.RequestParams(ctx, app.Client, fmt.Sprintf("/api/workflow/%s/exec/group/%s", wfID, group), payload)
				if err != nil {
					return err
				}
				endpoint := fmt.Sprintf("/api/router/exec/%s/client/%s", wfID, params.Key)
				return tunnel.RunGroupExec(ctx, app.Client, []tunnel.GroupExecTarget{
					{TaskName: group, Params: params, Endpoint: endpoint},
				})
			}

			if len(args) != 2 {
				return &osmoerrors.UserError{Message: "exec requires either a task name or --group"}
			}
			task := args[1]
			params, err := tunnel.RequestParams(ctx, app.Client, fmt.Sprintf("/api/workflow/%s/exec/task/%s", wfID, task), payload)
			if err != nil {
				return err
			}
			endpoint := fmt.Sprintf("/api/router/exec/%s/client/%s", wfID, params.Key)
			return tunnel.RunInteractiveExec(ctx, app.Client, params, endpoint, keepAlive)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "run against every task in a group instead of one task")
	cmd.Flags().StringVar(&entry, "entry", "", "override command to run, shell-quoted")
	cmd.Flags().IntVar(&connectTimeout, "connect-timeout", 30, "accepted but not applied; router connections use a fixed 10-second handshake timeout")
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "reconnect on transport failure instead of exiting")
	return cmd
}
