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
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/OSMO-sub002/internal/tunnel"
)

func newPortForwardCmd() *cobra.Command {
	var (
		portSpec       string
		host           string
		udp            bool
		connectTimeout int
	)
	cmd := &cobra.Command{
		Use:   "port-forward <wfid> <task>",
		Short: "Forward local ports to a running task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAuthenticatedContext()
			if err != nil {
				return err
			}
			wfID, task := args[0], args[1]

			local, remote, err := tunnel.ParsePortSpec(portSpec)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			session := &tunnel.Session{Client: app.Client, Logger: app.Logger, Workflow: wfID}

			var wg sync.WaitGroup
			errCh := make(chan error, len(local))
			for i := range local {
				pair := tunnel.PortPair{Local: local[i], Remote: remote[i]}
				fetchParams := func(ctx context.Context) (tunnel.Params, error) {
					return tunnel.RequestParams(ctx, app.Client, fmt.Sprintf("/api/workflow/%s/portforward/%s", wfID, task), map[string]interface{}{
						"task_ports": []int{pair.Remote},
						"use_udp":    udp,
					})
				}
				wg.Add(1)
				go func(pair tunnel.PortPair) {
					defer wg.Done()
					var err error
					if udp {
						err = session.ServeUDPPortForward(ctx, host, pair, fetchParams)
					} else {
						err = session.ServeTCPPortForward(ctx, host, pair, fetchParams)
					}
					if err != nil {
						errCh <- err
					}
				}(pair)
				fmt.Printf("forwarding %s:%d -> task %s port %d\n", host, pair.Local, task, pair.Remote)
			}

			wg.Wait()
			close(errCh)
			for err := range errCh {
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&portSpec, "port", "", "port spec, e.g. 8080:80,9000-9010")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "local bind address")
	cmd.Flags().BoolVar(&udp, "udp", false, "forward UDP instead of TCP")
	cmd.Flags().IntVar(&connectTimeout, "connect-timeout", 30, "accepted but not applied; router connections use a fixed 10-second handshake timeout")
	cmd.MarkFlagRequired("port")
	return cmd
}
