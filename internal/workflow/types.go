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

// Package workflow is the Workflow Submission Pipeline: template
// expansion, local-file inlining, local-path dataset upload, and
// submit/restart/validate against the service.
package workflow

import (
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
)

// Priority is the workflow submission priority.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// TemplateData is ephemeral input to a single submit invocation.
type TemplateData struct {
	File                  string
	SetVariables          []string
	SetStringVariables    []string
	UploadedTemplatedSpec string
	IsTemplated           bool
}

// SubmitParams carries the CLI-facing options for submit/restart/validate.
type SubmitParams struct {
	Pool         string
	Priority     Priority
	DryRun       bool
	ValidateOnly bool
	LocalPath    bool
	EnvVars      map[string]string
}

// SubmissionResult is the printable outcome of a successful submit.
type SubmissionResult struct {
	WorkflowID   string
	Overview     string
	DashboardURL string
	Priority     Priority
	Logs         string
}

// LocalDatasetInput pairs a local-path dataset's declared name with its
// local directory and the input mapping nodes in the parsed spec document
// that must be back-filled once it is uploaded.
type LocalDatasetInput struct {
	DatasetName string
	LocalPath   string
	InputNodes  []*yaml.Node
}

// Pipeline bundles the dependencies the submission pipeline needs: the
// service client for dry-run/validate/submit calls. Relative localpath
// entries are resolved against the workflow file's directory, which Submit
// and Validate derive from their path argument.
type Pipeline struct {
	Client *serviceclient.Client
}

// NewPipeline constructs a Pipeline against client.
func NewPipeline(client *serviceclient.Client) *Pipeline {
	return &Pipeline{Client: client}
}
