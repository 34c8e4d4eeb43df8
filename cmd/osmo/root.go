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
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/OSMO-sub002/internal/identity"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
	"github.com/NVIDIA/OSMO-sub002/internal/workflow"
	"github.com/NVIDIA/OSMO-sub002/utils/logging"
)

var (
	logLevel string
	logDir   string
	logName  string
)

// appContext bundles the dependencies every subcommand needs: a logger, the
// identity store, and (once authenticated) a service client.
type appContext struct {
	Logger   *slog.Logger
	Identity *identity.Store
	Client   *serviceclient.Client
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "osmo",
		Short:         "OSMO workflow client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory to also write logs to")
	root.PersistentFlags().StringVar(&logName, "log-name", "", "log file base name (defaults to 'osmo')")

	root.AddCommand(newLoginCmd())
	root.AddCommand(newLogoutCmd())
	root.AddCommand(newWorkflowCmd())
	return root
}

func newLogger() *slog.Logger {
	cfg := logging.Config{Level: logging.ParseLevel(logLevel), LogDir: logDir, LogName: logName}
	return logging.InitLogger("osmo", cfg)
}

// newAppContext builds the identity store and logger but not a service
// client — used by commands (login) that don't require prior authentication.
func newAppContext() (*appContext, error) {
	logger := newLogger()
	store, err := identity.New(identity.DefaultLoginConfig)
	if err != nil {
		return nil, err
	}
	return &appContext{Logger: logger, Identity: store}, nil
}

// newAuthenticatedContext additionally requires a persisted login and
// constructs a service client against its service URL.
func newAuthenticatedContext() (*appContext, error) {
	ctx, err := newAppContext()
	if err != nil {
		return nil, err
	}
	serviceURL := ctx.Identity.ServiceURL()
	if serviceURL == "" {
		return nil, &osmoerrors.NotAuthenticatedError{}
	}
	client, err := serviceclient.New(serviceURL, ctx.Identity, ctx.Logger)
	if err != nil {
		return nil, err
	}
	ctx.Client = client
	return ctx, nil
}

func (a *appContext) pipeline() *workflow.Pipeline {
	return workflow.NewPipeline(a.Client)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, for the
// long-running tunneled commands (exec, port-forward, rsync).
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
