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
	"regexp"
	"strings"
)

// templateMarkers are the literal substrings that mark a workflow file as
// templated, per spec.md invariant 2.
var templateMarkers = []string{"{%", "{{", "{#", "default-values"}

// IsTemplated reports whether text contains any template marker or a
// defaults block.
func IsTemplated(text string) bool {
	for _, marker := range templateMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// workflowIDPattern matches a previously-submitted workflow's identifier: a
// standard UUID, optionally hyphen-suffixed with a retry index.
var workflowIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(-\d+)?$`)

// IsWorkflowID reports whether s looks like a workflow identifier rather
// than a filesystem path, per spec.md §4.3 step 1.
func IsWorkflowID(s string) bool {
	return workflowIDPattern.MatchString(s)
}
