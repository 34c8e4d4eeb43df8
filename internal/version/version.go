/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION. All rights reserved.

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

// Package version holds the client version, ordered lexicographically over
// its integer tuple and serialized in the x-osmo-client-version header.
package version

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Version is {major, minor, revision, hash?}, compared lexicographically
// over (Major, Minor, Revision); Hash never participates in ordering, only
// in the printed string.
type Version struct {
	Major    int    `yaml:"major"`
	Minor    int    `yaml:"minor"`
	Revision int    `yaml:"revision"`
	Hash     string `yaml:"hash,omitempty"`
}

// String renders "major.minor.revision[.hash]".
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
	if v.Hash != "" {
		s += "." + v.Hash
	}
	return s
}

// Less reports whether v sorts before other under lexicographic ordering of
// the (Major, Minor, Revision) integer tuple.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Revision < other.Revision
}

// Dev is the fallback version used when no version.yaml ships alongside the
// binary (local builds, go run).
var Dev = Version{Major: 0, Minor: 0, Revision: 0, Hash: "dev"}

// Load reads version.yaml from the directory containing this source file at
// build time (teacher's own self-locating idiom via runtime.Caller), falling
// back to Dev when absent — e.g. when running from source without a release
// packaging step.
func Load() Version {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return Dev
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(filename), "version.yaml"))
	if err != nil {
		return Dev
	}
	var v Version
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Dev
	}
	return v
}
