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

// Package rsyncengine spawns an rsync subprocess in client mode against a
// loopback endpoint backed by the control-channel tunnel, debounces
// filesystem events, and reconciles deferred uploads.
package rsyncengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NVIDIA/OSMO-sub002/internal/common"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/tunnel"
)

// Request is an immutable, validated rsync destination on a remote workflow
// task.
type Request struct {
	WorkflowID      string
	TaskName        string
	Src             string
	DstModule       string
	DstPath         string
	OriginalDstPath string
}

// ModuleInfo is a server-declared writable subtree.
type ModuleInfo struct {
	Name     string
	Path     string
	Writable bool
}

// DefaultModuleInfo is the always-present default destination module.
var DefaultModuleInfo = ModuleInfo{Name: "osmo", Path: "/osmo/run/workspace", Writable: true}

// ValidateDstPath matches dst against the longest writable module prefix in
// allowedPaths (DefaultModuleInfo is always implicitly included), returning
// the matched module name and the module-relative remainder. Rejects
// non-absolute destinations and matches against read-only modules.
func ValidateDstPath(dst string, allowedPaths []ModuleInfo) (module, relPath string, err error) {
	if !filepath.IsAbs(dst) {
		return "", "", &osmoerrors.UserError{Message: fmt.Sprintf("destination %q must be an absolute path", dst)}
	}

	all := append([]ModuleInfo{DefaultModuleInfo}, allowedPaths...)

	var bestMatch *ModuleInfo
	bestLen := -1
	for i := range all {
		m := &all[i]
		// A module matches when its path is exactly the longest-common-path
		// prefix shared with dst — i.e. dst falls entirely under it.
		commonPrefix := common.LongestCommonPathPrefix([]string{dst + "/", m.Path + "/"})
		if strings.TrimSuffix(commonPrefix, "/") == strings.TrimSuffix(m.Path, "/") && len(m.Path) > bestLen {
			bestLen = len(m.Path)
			bestMatch = m
		}
	}

	if bestMatch == nil {
		bases := make([]string, len(all))
		for i, m := range all {
			bases[i] = m.Path
		}
		return "", "", &osmoerrors.UserError{
			Message: fmt.Sprintf("destination %q does not fall under any allowed base: %s", dst, strings.Join(bases, ", ")),
		}
	}
	if !bestMatch.Writable {
		return "", "", &osmoerrors.UserError{
			Message: fmt.Sprintf("destination %q resolves to read-only module %q", dst, bestMatch.Name),
		}
	}

	rel := strings.TrimPrefix(dst, bestMatch.Path)
	rel = strings.TrimPrefix(rel, "/")
	return bestMatch.Name, rel, nil
}

// ParseRequest splits "src:dst" (first unescaped colon), validates src
// exists locally, and validates dst against allowedPaths.
func ParseRequest(workflowID, taskName, arg string, allowedPaths []ModuleInfo) (Request, error) {
	src, dst, err := tunnel.SplitSrcDst(arg)
	if err != nil {
		return Request{}, err
	}

	info, statErr := os.Stat(src)
	if statErr != nil {
		return Request{}, &osmoerrors.UserError{Message: fmt.Sprintf("source %q does not exist: %v", src, statErr)}
	}
	_ = info

	resolvedSrc, err := filepath.EvalSymlinks(src)
	if err != nil {
		resolvedSrc = src
	}

	module, relPath, err := ValidateDstPath(dst, allowedPaths)
	if err != nil {
		return Request{}, err
	}

	return Request{
		WorkflowID:      workflowID,
		TaskName:        taskName,
		Src:             resolvedSrc,
		DstModule:       module,
		DstPath:         relPath,
		OriginalDstPath: dst,
	}, nil
}

// ResolveTimerParam applies the spec's max(server, user) rule: when the
// user supplies no value, the server value is authoritative; otherwise the
// larger of the two wins.
func ResolveTimerParam(serverValue float64, userValue *float64) float64 {
	if userValue == nil {
		return serverValue
	}
	if *userValue > serverValue {
		return *userValue
	}
	return serverValue
}
