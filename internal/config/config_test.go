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

package config

import (
	"path/filepath"
	"testing"
)

func TestConfigDirHonorsOverride(t *testing.T) {
	t.Setenv("OSMO_CONFIG_OVERRIDE", "/tmp/osmo-config-override")
	got, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if got != "/tmp/osmo-config-override" {
		t.Errorf("ConfigDir() = %q, want override value", got)
	}
}

func TestConfigDirHonorsXDG(t *testing.T) {
	t.Setenv("OSMO_CONFIG_OVERRIDE", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
	got, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	want := filepath.Join("/tmp/xdg-config", "osmo")
	if got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
}

func TestRsyncStateDirCreatesDirectory(t *testing.T) {
	t.Setenv("OSMO_STATE_OVERRIDE", t.TempDir())
	dir, err := RsyncStateDir()
	if err != nil {
		t.Fatalf("RsyncStateDir() error = %v", err)
	}
	if filepath.Base(dir) != "rsync" {
		t.Errorf("RsyncStateDir() = %q, want a path ending in rsync", dir)
	}
}

func TestLoadCachedProfileMissingFileReturnsZeroValue(t *testing.T) {
	t.Setenv("OSMO_CONFIG_OVERRIDE", t.TempDir())
	profile, err := LoadCachedProfile()
	if err != nil {
		t.Fatalf("LoadCachedProfile() error = %v", err)
	}
	if profile != (CachedProfile{}) {
		t.Errorf("LoadCachedProfile() = %+v, want zero value", profile)
	}
}

func TestSaveAndLoadCachedProfileRoundTrip(t *testing.T) {
	t.Setenv("OSMO_CONFIG_OVERRIDE", t.TempDir())
	want := CachedProfile{DefaultPool: "pool-a", ServiceURL: "https://osmo.example.com"}
	if err := SaveCachedProfile(want); err != nil {
		t.Fatalf("SaveCachedProfile() error = %v", err)
	}
	got, err := LoadCachedProfile()
	if err != nil {
		t.Fatalf("LoadCachedProfile() error = %v", err)
	}
	if got != want {
		t.Errorf("LoadCachedProfile() = %+v, want %+v", got, want)
	}
}
