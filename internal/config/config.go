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

// Package config resolves the client's config and state directories and
// loads the optional config.yaml cache file.
package config

import (
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/NVIDIA/OSMO-sub002/utils"
)

// CachedProfile is the optional config.yaml cache: a default pool override
// and the last profile seen from the server, used to avoid a round trip on
// every invocation when the user hasn't changed pools recently.
type CachedProfile struct {
	DefaultPool string `json:"default_pool,omitempty"`
	ServiceURL  string `json:"service_url,omitempty"`
}

// ConfigDir returns the directory login.yaml and config.yaml live in:
// OSMO_CONFIG_OVERRIDE, else $XDG_CONFIG_HOME/osmo, else ~/.config/osmo.
func ConfigDir() (string, error) {
	if override := os.Getenv("OSMO_CONFIG_OVERRIDE"); override != "" {
		return override, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "osmo"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "osmo"), nil
}

// StateDir returns the directory client.log and rsync/ pid+log files live
// in: OSMO_STATE_OVERRIDE, else $XDG_STATE_HOME/osmo, else ~/.local/state/osmo.
func StateDir() (string, error) {
	if override := os.Getenv("OSMO_STATE_OVERRIDE"); override != "" {
		return override, nil
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "osmo"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "osmo"), nil
}

// LoginFilePath returns <config_dir>/login.yaml.
func LoginFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "login.yaml"), nil
}

// RsyncStateDir returns <state_dir>/rsync, creating it if absent.
func RsyncStateDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	rsyncDir := filepath.Join(dir, "rsync")
	if err := os.MkdirAll(rsyncDir, 0o755); err != nil {
		return "", err
	}
	return rsyncDir, nil
}

// LoadCachedProfile reads <config_dir>/config.yaml, returning a zero value
// (not an error) if the file does not exist.
func LoadCachedProfile() (CachedProfile, error) {
	var profile CachedProfile
	dir, err := ConfigDir()
	if err != nil {
		return profile, err
	}
	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profile, nil
		}
		return profile, err
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return profile, err
	}
	return profile, nil
}

// SaveCachedProfile writes <config_dir>/config.yaml atomically (write to a
// temp file, then rename), matching the LoginStorage persistence pattern.
func SaveCachedProfile(profile CachedProfile) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(profile)
	if err != nil {
		return err
	}
	return utils.AtomicWriteFile(filepath.Join(dir, "config.yaml"), data, 0o600)
}
