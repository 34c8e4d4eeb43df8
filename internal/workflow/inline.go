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
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
)

// mappingValue returns the value node for key within a YAML mapping node,
// or nil if absent.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(mapping *yaml.Node, key, value string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1].SetString(value)
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Value: value},
	)
}

func deleteMappingKey(mapping *yaml.Node, key string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
			return
		}
	}
}

// eachTask yields every task mapping node across both the v1 top-level
// `tasks` array and the v2 `groups[].tasks` arrays.
func eachTask(root *yaml.Node, fn func(task *yaml.Node)) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if tasks := mappingValue(doc, "tasks"); tasks != nil && tasks.Kind == yaml.SequenceNode {
		for _, t := range tasks.Content {
			fn(t)
		}
	}
	if groups := mappingValue(doc, "groups"); groups != nil && groups.Kind == yaml.SequenceNode {
		for _, g := range groups.Content {
			if tasks := mappingValue(g, "tasks"); tasks != nil && tasks.Kind == yaml.SequenceNode {
				for _, t := range tasks.Content {
					fn(t)
				}
			}
		}
	}
}

// InlineLocalFiles walks every task's files[] entries; an entry with a
// `localpath` field has its contents read from disk (resolved relative to
// baseDir) and substituted into a `contents` field, with `localpath`
// removed. An entry with both `contents` and `localpath` set is rejected.
// Idempotent: running it again on the result is a no-op (no task retains a
// `localpath` key), matching spec.md invariant 3.
func InlineLocalFiles(root *yaml.Node, baseDir string) error {
	var firstErr error
	eachTask(root, func(task *yaml.Node) {
		if firstErr != nil {
			return
		}
		files := mappingValue(task, "files")
		if files == nil || files.Kind != yaml.SequenceNode {
			return
		}
		for _, f := range files.Content {
			localpath := mappingValue(f, "localpath")
			if localpath == nil {
				continue
			}
			if mappingValue(f, "contents") != nil {
				firstErr = &osmoerrors.UserError{Message: fmt.Sprintf("file entry has both contents and localpath: %s", localpath.Value)}
				return
			}
			resolved := localpath.Value
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(baseDir, resolved)
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				firstErr = &osmoerrors.UserError{Message: fmt.Sprintf("reading local file %q: %v", resolved, err)}
				return
			}
			setMappingValue(f, "contents", string(data))
			deleteMappingKey(f, "localpath")
		}
	})
	return firstErr
}

// DiscoverLocalDatasets finds every task input of kind `dataset` carrying a
// `localpath` field, grouping input nodes by (dataset_name, localpath).
// Rejects any dataset name containing ':' per spec.md §4.3 step 5.
func DiscoverLocalDatasets(root *yaml.Node) ([]LocalDatasetInput, error) {
	index := map[string]int{}
	var result []LocalDatasetInput

	var firstErr error
	eachTask(root, func(task *yaml.Node) {
		if firstErr != nil {
			return
		}
		inputs := mappingValue(task, "inputs")
		if inputs == nil || inputs.Kind != yaml.SequenceNode {
			return
		}
		for _, in := range inputs.Content {
			kind := mappingValue(in, "kind")
			localpath := mappingValue(in, "localpath")
			name := mappingValue(in, "name")
			if kind == nil || kind.Value != "dataset" || localpath == nil || name == nil {
				continue
			}
			if strings.Contains(name.Value, ":") {
				firstErr = &osmoerrors.UserError{Message: fmt.Sprintf("dataset name %q must not contain ':'", name.Value)}
				return
			}
			key := name.Value + "\x00" + localpath.Value
			if idx, ok := index[key]; ok {
				result[idx].InputNodes = append(result[idx].InputNodes, in)
				continue
			}
			index[key] = len(result)
			result = append(result, LocalDatasetInput{
				DatasetName: name.Value,
				LocalPath:   localpath.Value,
				InputNodes:  []*yaml.Node{in},
			})
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// BackfillDatasetVersion rewrites every input node's name to
// "<dataset_name>:<version_id>" and removes its localpath, after the
// dataset directory has been uploaded and assigned versionID.
func BackfillDatasetVersion(d LocalDatasetInput, versionID string) {
	newName := d.DatasetName + ":" + versionID
	for _, in := range d.InputNodes {
		setMappingValue(in, "name", newName)
		deleteMappingKey(in, "localpath")
	}
}
