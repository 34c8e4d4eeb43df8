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
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
)

// submitResponse mirrors the subset of the server's JSON reply (to dry-run,
// validation and submit calls alike) this pipeline reads; everything else
// passes through untouched.
type submitResponse struct {
	WorkflowID   string `json:"workflow_id"`
	Overview     string `json:"overview"`
	DashboardURL string `json:"dashboard_url"`
	Logs         string `json:"logs"`
	Spec         string `json:"spec"`
}

func decodeSubmitResponse(raw interface{}) submitResponse {
	m, _ := raw.(map[string]interface{})
	get := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	return submitResponse{
		WorkflowID:   get("workflow_id"),
		Overview:     get("overview"),
		DashboardURL: get("dashboard_url"),
		Logs:         get("logs"),
		Spec:         get("spec"),
	}
}

// resolvePool implements spec.md §4.3 step 2: use --pool if given, else the
// server profile's default pool.
func (p *Pipeline) resolvePool(ctx context.Context, explicitPool string) (string, error) {
	if explicitPool != "" {
		return explicitPool, nil
	}
	raw, err := p.Client.Request(ctx, "GET", "/api/profile", serviceclient.RequestOpts{}, serviceclient.JSON)
	if err != nil {
		return "", err
	}
	m, _ := raw.(map[string]interface{})
	pool, _ := m["default_pool"].(string)
	if pool == "" {
		return "", &osmoerrors.UserError{Message: "no pool specified and no default pool configured"}
	}
	return pool, nil
}

// restartPool implements the Restart pool-selection priority from spec.md
// §4.3: --pool, then the workflow's recorded pool (looked up under the JSON
// key "pool" — not the apparent "pool_name" typo in the source this was
// distilled from), then the profile default.
func (p *Pipeline) restartPool(ctx context.Context, explicitPool, workflowID string) (string, error) {
	if explicitPool != "" {
		return explicitPool, nil
	}
	raw, err := p.Client.Request(ctx, "GET", "/api/workflow/"+workflowID, serviceclient.RequestOpts{}, serviceclient.JSON)
	if err != nil {
		return "", err
	}
	if m, ok := raw.(map[string]interface{}); ok {
		if pool, ok := m["pool"].(string); ok && pool != "" {
			return pool, nil
		}
	}
	return p.resolvePool(ctx, "")
}

// Submit runs the full workflow submission pipeline (spec.md §4.3 steps
// 1-7). path is a filesystem path to a workflow file. Dataset upload (step
// 8's rsync daemon kick-off is the caller's responsibility) is driven by
// uploadDataset, which must return a new dataset version id.
func (p *Pipeline) Submit(ctx context.Context, path string, td TemplateData, params SubmitParams, uploadDataset func(ctx context.Context, localPath string) (string, error)) (*SubmissionResult, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, &osmoerrors.UserError{Message: fmt.Sprintf("reading workflow file %q: %v", path, err)}
	}
	templated := IsTemplated(string(text))
	baseDir := filepath.Dir(path)

	pool, err := p.resolvePool(ctx, params.Pool)
	if err != nil {
		return nil, err
	}

	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	specText := string(text)
	if templated {
		expanded, err := p.dryRunExpand(ctx, pool, specText, td, params.EnvVars)
		if err != nil {
			return nil, err
		}
		if params.DryRun {
			return &SubmissionResult{Overview: expanded}, nil
		}
		specText = expanded
	} else if params.DryRun {
		return nil, &osmoerrors.UserError{Message: "--dry-run requires a templated workflow file"}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(specText), &doc); err != nil {
		return nil, &osmoerrors.UserError{Message: fmt.Sprintf("parsing expanded spec: %v", err)}
	}

	if err := InlineLocalFiles(&doc, baseDir); err != nil {
		return nil, err
	}

	datasets, err := DiscoverLocalDatasets(&doc)
	if err != nil {
		return nil, err
	}

	if len(datasets) > 0 {
		inlined, err := yaml.Marshal(&doc)
		if err != nil {
			return nil, err
		}
		if _, err := p.submitRequest(ctx, pool, "", string(inlined), TemplateData{}, priority, params.EnvVars, false, true); err != nil {
			return nil, fmt.Errorf("pre-upload validation failed: %w", err)
		}
		if uploadDataset == nil {
			return nil, &osmoerrors.UserError{Message: "workflow references local-path datasets but no uploader was configured"}
		}
		for _, d := range datasets {
			versionID, err := uploadDataset(ctx, resolveLocalPath(baseDir, d.LocalPath))
			if err != nil {
				return nil, fmt.Errorf("uploading dataset %q: %w", d.DatasetName, err)
			}
			BackfillDatasetVersion(d, versionID)
		}
	}

	final, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, err
	}

	resp, err := p.submitRequest(ctx, pool, "", string(final), TemplateData{}, priority, params.EnvVars, false, false)
	if err != nil {
		return nil, err
	}

	return &SubmissionResult{
		WorkflowID:   resp.WorkflowID,
		Overview:     resp.Overview,
		DashboardURL: resp.DashboardURL,
		Priority:     priority,
	}, nil
}

// SubmitByID re-submits a previously-submitted workflow by reference rather
// than from a file, per spec.md §4.3 step 1: no templating, no local-file
// inlining, no dataset upload — the server looks the workflow up by id.
func (p *Pipeline) SubmitByID(ctx context.Context, workflowID string, params SubmitParams) (*SubmissionResult, error) {
	pool, err := p.resolvePool(ctx, params.Pool)
	if err != nil {
		return nil, err
	}

	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	params2 := url.Values{"priority": {string(priority)}, "workflow_id": {workflowID}}
	raw, err := p.Client.Request(ctx, "POST",
		fmt.Sprintf("/api/pool/%s/workflow", url.PathEscape(pool)),
		serviceclient.RequestOpts{Params: params2},
		serviceclient.JSON)
	if err != nil {
		return nil, fmt.Errorf("workflow %s submit failed: %w", workflowID, err)
	}
	resp := decodeSubmitResponse(raw)
	return &SubmissionResult{
		WorkflowID:   resp.WorkflowID,
		Overview:     resp.Overview,
		DashboardURL: resp.DashboardURL,
		Priority:     priority,
	}, nil
}

// Restart re-submits workflowID against its original (or overridden) pool.
func (p *Pipeline) Restart(ctx context.Context, workflowID string, params SubmitParams) (*SubmissionResult, error) {
	pool, err := p.restartPool(ctx, params.Pool, workflowID)
	if err != nil {
		return nil, err
	}

	raw, err := p.Client.Request(ctx, "POST",
		fmt.Sprintf("/api/pool/%s/workflow/%s/restart", url.PathEscape(pool), url.PathEscape(workflowID)),
		serviceclient.RequestOpts{Params: url.Values{"priority": {string(params.Priority)}}},
		serviceclient.JSON)
	if err != nil {
		return nil, err
	}
	resp := decodeSubmitResponse(raw)
	return &SubmissionResult{
		WorkflowID:   resp.WorkflowID,
		Overview:     resp.Overview,
		DashboardURL: resp.DashboardURL,
		Priority:     params.Priority,
	}, nil
}

// Validate runs the inlining pipeline and a validation-only submission,
// returning the server-reported logs verbatim (spec.md §4.3's
// "Validation-only mode"; the open question on _load_workflow_text is
// resolved by reusing the inlining pipeline directly rather than a separate
// parser).
func (p *Pipeline) Validate(ctx context.Context, path string, td TemplateData, params SubmitParams) (string, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return "", &osmoerrors.UserError{Message: fmt.Sprintf("reading workflow file %q: %v", path, err)}
	}
	baseDir := filepath.Dir(path)

	pool, err := p.resolvePool(ctx, params.Pool)
	if err != nil {
		return "", err
	}

	specText := string(text)
	if IsTemplated(specText) {
		expanded, err := p.dryRunExpand(ctx, pool, specText, td, params.EnvVars)
		if err != nil {
			return "", err
		}
		specText = expanded
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(specText), &doc); err != nil {
		return "", &osmoerrors.UserError{Message: fmt.Sprintf("parsing expanded spec: %v", err)}
	}
	if err := InlineLocalFiles(&doc, baseDir); err != nil {
		return "", err
	}
	inlined, err := yaml.Marshal(&doc)
	if err != nil {
		return "", err
	}

	resp, err := p.submitRequest(ctx, pool, "", string(inlined), TemplateData{}, PriorityNormal, params.EnvVars, false, true)
	if err != nil {
		return "", err
	}
	return resp.Logs, nil
}

func (p *Pipeline) dryRunExpand(ctx context.Context, pool, templateText string, td TemplateData, envVars map[string]string) (string, error) {
	resp, err := p.submitRequest(ctx, pool, templateText, "", td, PriorityNormal, envVars, true, false)
	if err != nil {
		return "", err
	}
	return resp.Spec, nil
}

func (p *Pipeline) submitRequest(ctx context.Context, pool, template, spec string, td TemplateData, priority Priority, envVars map[string]string, dryRun, validateOnly bool) (submitResponse, error) {
	payload := map[string]interface{}{
		"priority": string(priority),
	}
	if template != "" {
		payload["template"] = template
		if len(td.SetVariables) > 0 {
			payload["set_variables"] = td.SetVariables
		}
		if len(td.SetStringVariables) > 0 {
			payload["set_string_variables"] = td.SetStringVariables
		}
	}
	if spec != "" {
		payload["spec"] = spec
	}
	if len(envVars) > 0 {
		payload["env_vars"] = envVars
	}

	params := url.Values{}
	if dryRun {
		params.Set("dry_run", "true")
	}
	if validateOnly {
		params.Set("validation_only", "true")
	}

	raw, err := p.Client.Request(ctx, "POST",
		fmt.Sprintf("/api/pool/%s/workflow", url.PathEscape(pool)),
		serviceclient.RequestOpts{Payload: payload, Params: params},
		serviceclient.JSON)
	if err != nil {
		return submitResponse{}, err
	}
	return decodeSubmitResponse(raw), nil
}

func resolveLocalPath(baseDir, localPath string) string {
	if filepath.IsAbs(localPath) {
		return localPath
	}
	return filepath.Join(baseDir, localPath)
}
