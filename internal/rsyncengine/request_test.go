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
	"path/filepath"
	"testing"
)

func TestValidateDstPathDefaultModule(t *testing.T) {
	module, rel, err := ValidateDstPath("/osmo/run/workspace/checkpoints", nil)
	if err != nil {
		t.Fatalf("ValidateDstPath() error = %v", err)
	}
	if module != "osmo" || rel != "checkpoints" {
		t.Errorf("got module=%q rel=%q, want osmo/checkpoints", module, rel)
	}
}

func TestValidateDstPathRejectsRelative(t *testing.T) {
	if _, _, err := ValidateDstPath("relative/path", nil); err == nil {
		t.Error("expected an error for a non-absolute destination")
	}
}

func TestValidateDstPathPicksLongestPrefix(t *testing.T) {
	allowed := []ModuleInfo{
		{Name: "data", Path: "/osmo/run/workspace/data", Writable: true},
	}
	module, rel, err := ValidateDstPath("/osmo/run/workspace/data/inputs", allowed)
	if err != nil {
		t.Fatalf("ValidateDstPath() error = %v", err)
	}
	if module != "data" || rel != "inputs" {
		t.Errorf("got module=%q rel=%q, want data/inputs", module, rel)
	}
}

func TestValidateDstPathRejectsReadOnly(t *testing.T) {
	allowed := []ModuleInfo{
		{Name: "ro", Path: "/osmo/run/workspace/ro", Writable: false},
	}
	if _, _, err := ValidateDstPath("/osmo/run/workspace/ro/file", allowed); err == nil {
		t.Error("expected an error for a read-only module match")
	}
}

func TestValidateDstPathRejectsUnmatched(t *testing.T) {
	if _, _, err := ValidateDstPath("/not/under/any/module", nil); err == nil {
		t.Error("expected an error when no allowed base matches")
	}
}

func TestParseRequestResolvesLocalSrc(t *testing.T) {
	dir := t.TempDir()
	req, err := ParseRequest("wf-1", "task-1", dir+":/osmo/run/workspace/out", nil)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.WorkflowID != "wf-1" || req.TaskName != "task-1" {
		t.Errorf("unexpected request identity: %+v", req)
	}
	if req.DstModule != "osmo" || req.DstPath != "out" {
		t.Errorf("unexpected destination: module=%q path=%q", req.DstModule, req.DstPath)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if req.Src != resolved {
		t.Errorf("Src = %q, want %q", req.Src, resolved)
	}
}

func TestParseRequestRejectsMissingSrc(t *testing.T) {
	if _, err := ParseRequest("wf-1", "task-1", "/does/not/exist:/osmo/run/workspace/out", nil); err == nil {
		t.Error("expected an error for a nonexistent source path")
	}
}

func TestResolveTimerParam(t *testing.T) {
	five := 5.0
	ten := 10.0
	cases := []struct {
		name       string
		server     float64
		user       *float64
		want       float64
	}{
		{"no user value", 30, nil, 30},
		{"user below server", 30, &five, 30},
		{"user above server", 5, &ten, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveTimerParam(tc.server, tc.user); got != tc.want {
				t.Errorf("ResolveTimerParam() = %v, want %v", got, tc.want)
			}
		})
	}
}
