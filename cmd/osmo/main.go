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

// Command osmo is the OSMO CLI client: authentication, workflow submission,
// and the tunneled operations (exec, port-forward, rsync) that ride on top
// of a submitted workflow's router.
package main

import (
	"fmt"
	"os"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
)

// A re-exec'd rsync daemon child (internal/rsyncdaemon.ReexecEnvVar set in
// its environment) runs through the exact same cobra command line as the
// parent that forked it; "osmo workflow rsync"'s RunE checks the env var
// itself and branches into the foreground daemon loop instead of forking
// again. This keeps argument parsing in one place for both parent and child.
func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(osmoerrors.ExitCode(err))
	}
}
