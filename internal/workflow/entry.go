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

package workflow

import (
	"github.com/google/shlex"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
)

// ParseEntryCommand splits a shell-quoted `--entry` override (e.g. `osmo
// workflow exec wf --entry 'bash -lc "ls /data"'`) into argv the same way a
// POSIX shell would, so a quoted path containing spaces survives.
func ParseEntryCommand(entry string) ([]string, error) {
	argv, err := shlex.Split(entry)
	if err != nil {
		return nil, &osmoerrors.UserError{Message: "invalid --entry command: " + err.Error()}
	}
	if len(argv) == 0 {
		return nil, &osmoerrors.UserError{Message: "--entry must not be empty"}
	}
	return argv, nil
}
