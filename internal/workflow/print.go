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
	"fmt"
	"io"
)

// PrintSubmissionResult writes a submitted workflow's result to w: id,
// overview, dashboard URL, and (for a preemptible priority) a warning that
// the task may be evicted by higher-priority work.
func PrintSubmissionResult(w io.Writer, r *SubmissionResult) {
	fmt.Fprintf(w, "Workflow ID: %s\n", r.WorkflowID)
	if r.Overview != "" {
		fmt.Fprintf(w, "%s\n", r.Overview)
	}
	if r.DashboardURL != "" {
		fmt.Fprintf(w, "Dashboard: %s\n", r.DashboardURL)
	}
	if r.Priority == PriorityLow {
		fmt.Fprintln(w, "Warning: LOW priority workflows may be preempted by higher-priority submissions.")
	}
}
