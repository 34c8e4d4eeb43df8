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
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
	"github.com/NVIDIA/OSMO-sub002/internal/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Submit and manage workflows",
	}
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newRestartCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSpecCmd())
	cmd.AddCommand(newTagCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newPortForwardCmd())
	cmd.AddCommand(newRsyncCmd())
	return cmd
}

func parseSetFlags(values []string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, v := range values {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func parseEnvFlags(values []string) map[string]string {
	out := map[string]string{}
	for _, v := range values {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func newSubmitCmd() *cobra.Command {
	var (
		pool           string
		setValues      []string
		setStrValues   []string
		envValues      []string
		priority       string
		dryRun         bool
		localPath      bool
		rsyncSpec      string
		formatType     string
	)

	cmd := &cobra.Command{
		Use:   "submit <file|wfid>",
		Short: "Submit a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			target := args[0]

			params := workflow.SubmitParams{
				Pool:      pool,
				Priority:  workflow.Priority(strings.ToUpper(priority)),
				DryRun:    dryRun,
				LocalPath: localPath,
				EnvVars:   parseEnvFlags(envValues),
			}
			td := workflow.TemplateData{
				File:               target,
				SetVariables:       setValues,
				SetStringVariables: setStrValues,
			}

			if _, statErr := os.Stat(target); statErr != nil {
				if !workflow.IsWorkflowID(target) {
					return &osmoerrors.UserError{Message: fmt.Sprintf("%q is not a local file: %v", target, statErr)}
				}
				if dryRun {
					fmt.Fprintln(os.Stderr, "Please remove the --dry-run flag when submitting a workflow using a workflow ID.")
					return nil
				}
				if len(setValues) > 0 {
					fmt.Fprintln(os.Stderr, "Please remove the --set flag when submitting a workflow using a workflow ID.")
					return nil
				}
				result, err := app.pipeline().SubmitByID(cmd.Context(), target, params)
				if err != nil {
					return err
				}
				printResult(formatType, result)
				if rsyncSpec != "" {
					return startRsyncDaemonForSubmission(cmd.Context(), app, result.WorkflowID, rsyncSpec)
				}
				return nil
			}

			result, err := app.pipeline().Submit(cmd.Context(), target, td, params, nil)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Println(result.Overview)
				return nil
			}
			printResult(formatType, result)

			if rsyncSpec != "" {
				return startRsyncDaemonForSubmission(cmd.Context(), app, result.WorkflowID, rsyncSpec)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pool, "pool", "", "submission pool")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "template variable NAME=VALUE")
	cmd.Flags().StringArrayVar(&setStrValues, "set-string", nil, "template string variable NAME=VALUE")
	cmd.Flags().StringArrayVar(&envValues, "set-env", nil, "task environment variable NAME=VALUE")
	cmd.Flags().StringVar(&priority, "priority", "NORMAL", "HIGH, NORMAL, or LOW")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the expanded spec and stop")
	cmd.Flags().BoolVar(&localPath, "local-path", false, "allow local-path dataset inputs")
	cmd.Flags().StringVar(&rsyncSpec, "rsync", "", "task:src:dst to start syncing into that task once the workflow is running; the task name is required")
	cmd.Flags().StringVar(&formatType, "format-type", "text", "json or text")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var pool, formatType, priority string
	cmd := &cobra.Command{
		Use:   "restart <wfid>",
		Short: "Restart a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			result, err := app.pipeline().Restart(cmd.Context(), args[0], workflow.SubmitParams{
				Pool:     pool,
				Priority: workflow.Priority(strings.ToUpper(priority)),
			})
			if err != nil {
				return err
			}
			printResult(formatType, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "submission pool override")
	cmd.Flags().StringVar(&priority, "priority", "NORMAL", "HIGH, NORMAL, or LOW")
	cmd.Flags().StringVar(&formatType, "format-type", "text", "json or text")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var pool string
	var setValues, setStrValues []string
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow file without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			logs, err := app.pipeline().Validate(cmd.Context(), args[0], workflow.TemplateData{
				File:               args[0],
				SetVariables:       setValues,
				SetStringVariables: setStrValues,
			}, workflow.SubmitParams{Pool: pool})
			if err != nil {
				return err
			}
			fmt.Println(logs)
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "submission pool")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "template variable NAME=VALUE")
	cmd.Flags().StringArrayVar(&setStrValues, "set-string", nil, "template string variable NAME=VALUE")
	return cmd
}

func printResult(formatType string, result *workflow.SubmissionResult) {
	if formatType == "json" {
		data, _ := json.Marshal(result)
		fmt.Println(string(data))
		return
	}
	workflow.PrintSubmissionResult(os.Stdout, result)
}

func newLogsCmd() *cobra.Command {
	var task, retryID string
	var errorLogs bool
	var tailN int
	cmd := &cobra.Command{
		Use:   "logs <wfid>",
		Short: "Stream a workflow's logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			endpoint := fmt.Sprintf("/api/workflow/%s/logs", args[0])
			if errorLogs {
				endpoint = fmt.Sprintf("/api/workflow/%s/error_logs", args[0])
			}
			params := url.Values{}
			if task != "" {
				params.Set("task", task)
			}
			if retryID != "" {
				params.Set("retry_id", retryID)
			}
			if tailN > 0 {
				params.Set("n", fmt.Sprintf("%d", tailN))
			}
			raw, err := app.Client.Request(cmd.Context(), "GET", endpoint, serviceclient.RequestOpts{Params: params}, serviceclient.Streaming)
			if err != nil {
				return err
			}
			body, ok := raw.(io.ReadCloser)
			if !ok {
				return &osmoerrors.ServerError{Message: "unexpected log stream response"}
			}
			defer body.Close()
			if _, err := io.Copy(os.Stdout, body); err != nil {
				return &osmoerrors.ServerError{Message: "stream timed out"}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "restrict to one task")
	cmd.Flags().StringVar(&retryID, "retry-id", "", "restrict to one retry attempt")
	cmd.Flags().BoolVar(&errorLogs, "error", false, "fetch error logs instead of stdout logs")
	cmd.Flags().IntVarP(&tailN, "n", "n", 0, "only the last N lines")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var message string
	var force bool
	var formatType string
	cmd := &cobra.Command{
		Use:   "cancel <wfid...>",
		Short: "Cancel one or more workflows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			payload := map[string]interface{}{"message": message, "force": force}
			for _, wfID := range args {
				raw, err := app.Client.Request(cmd.Context(), "POST", fmt.Sprintf("/api/workflow/%s/cancel", wfID),
					serviceclient.RequestOpts{Payload: payload}, serviceclient.JSON)
				if err != nil {
					return err
				}
				if formatType == "json" {
					data, _ := json.Marshal(raw)
					fmt.Println(string(data))
				} else {
					fmt.Printf("cancelled %s\n", wfID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "cancellation reason")
	cmd.Flags().BoolVar(&force, "force", false, "force cancellation")
	cmd.Flags().StringVar(&formatType, "format-type", "text", "json or text")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var verbose bool
	var formatType string
	cmd := &cobra.Command{
		Use:   "query <wfid>",
		Short: "Query a workflow's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			params := url.Values{}
			if verbose {
				params.Set("verbose", "true")
			}
			raw, err := app.Client.Request(cmd.Context(), "GET", "/api/workflow/"+args[0], serviceclient.RequestOpts{Params: params}, serviceclient.JSON)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(raw, "", "  ")
			fmt.Println(string(data))
			_ = formatType
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include task-level detail")
	cmd.Flags().StringVar(&formatType, "format-type", "text", "json or text; output is JSON for either value")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		count                           int
		name, order, user, poolFilter   string
		status, tags, priorityFilter    []string
		allUsers                        bool
		submittedAfter, submittedBefore string
		formatType                      string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			params := url.Values{}
			if count > 0 {
				params.Set("count", fmt.Sprintf("%d", count))
			}
			if name != "" {
				params.Set("name", name)
			}
			if order != "" {
				params.Set("order", order)
			}
			for _, s := range status {
				params.Add("status", s)
			}
			if allUsers {
				params.Set("all_users", "true")
			} else if user != "" {
				params.Set("user", user)
			}
			if poolFilter != "" {
				params.Set("pool", poolFilter)
			}
			for _, t := range tags {
				params.Add("tags", t)
			}
			for _, p := range priorityFilter {
				params.Add("priority", p)
			}
			if submittedAfter != "" {
				params.Set("submitted_after", submittedAfter)
			}
			if submittedBefore != "" {
				params.Set("submitted_before", submittedBefore)
			}
			raw, err := app.Client.Request(cmd.Context(), "GET", "/api/workflow", serviceclient.RequestOpts{Params: params}, serviceclient.JSON)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(raw, "", "  ")
			fmt.Println(string(data))
			_ = formatType
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "page size")
	cmd.Flags().StringVar(&name, "name", "", "filter by name substring")
	cmd.Flags().StringVar(&order, "order", "desc", "asc or desc")
	cmd.Flags().StringArrayVar(&status, "status", nil, "filter by status")
	cmd.Flags().StringVar(&user, "user", "", "filter by submitting user")
	cmd.Flags().BoolVar(&allUsers, "all-users", false, "include all users' workflows")
	cmd.Flags().StringVar(&poolFilter, "pool", "", "filter by pool")
	cmd.Flags().StringArrayVar(&tags, "tags", nil, "filter by tag")
	cmd.Flags().StringArrayVar(&priorityFilter, "priority", nil, "filter by priority")
	cmd.Flags().StringVar(&submittedAfter, "submitted-after", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&submittedBefore, "submitted-before", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&formatType, "format-type", "text", "json or text; output is JSON for either value")
	return cmd
}

func newSpecCmd() *cobra.Command {
	var template bool
	cmd := &cobra.Command{
		Use:   "spec <wfid>",
		Short: "Fetch a workflow's expanded (or template) spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			params := url.Values{}
			if template {
				params.Set("template", "true")
			}
			raw, err := app.Client.Request(cmd.Context(), "GET", fmt.Sprintf("/api/workflow/%s/spec", args[0]),
				serviceclient.RequestOpts{Params: params}, serviceclient.Streaming)
			if err != nil {
				return err
			}
			body, ok := raw.(io.ReadCloser)
			if !ok {
				return &osmoerrors.ServerError{Message: "unexpected spec stream response"}
			}
			defer body.Close()
			if _, err := io.Copy(os.Stdout, body); err != nil {
				return &osmoerrors.ServerError{Message: "stream timed out"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&template, "template", false, "fetch the original template instead of the expanded spec")
	return cmd
}

func newTagCmd() *cobra.Command {
	var add, remove []string
	cmd := &cobra.Command{
		Use:   "tag [wfid...]",
		Short: "Add or remove workflow tags, or list all admin-defined tags",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}

			if (len(add) > 0 || len(remove) > 0) && len(args) == 0 {
				return &osmoerrors.UserError{Message: "no workflow specified to add/remove tags from"}
			}
			if len(args) > 0 && len(add) == 0 && len(remove) == 0 {
				return &osmoerrors.UserError{Message: "no tags specified to add/remove"}
			}

			if len(args) > 0 {
				params := url.Values{}
				for _, t := range add {
					params.Add("add", t)
				}
				for _, t := range remove {
					params.Add("remove", t)
				}
				for _, wfID := range args {
					_, err := app.Client.Request(cmd.Context(), "POST", fmt.Sprintf("/api/workflow/%s/tag", wfID),
						serviceclient.RequestOpts{Params: params}, serviceclient.JSON)
					if err != nil {
						fmt.Fprintln(os.Stderr, err)
						continue
					}
					fmt.Printf("Workflow %s updated.\n", wfID)
				}
				return nil
			}

			raw, err := app.Client.Request(cmd.Context(), "GET", "/api/tag", serviceclient.RequestOpts{}, serviceclient.JSON)
			if err != nil {
				return err
			}
			m, _ := raw.(map[string]interface{})
			tags, _ := m["tags"].([]interface{})
			if len(tags) == 0 {
				fmt.Println("No tags have been set by admins.")
				return nil
			}
			fmt.Println("Tags:")
			for _, t := range tags {
				fmt.Printf("- %v\n", t)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&add, "add", nil, "tag to add")
	cmd.Flags().StringArrayVar(&remove, "remove", nil, "tag to remove")
	return cmd
}
