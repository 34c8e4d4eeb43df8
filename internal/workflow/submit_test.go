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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/NVIDIA/OSMO-sub002/internal/identity"
	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
)

func newTestPipeline(t *testing.T, handler http.HandlerFunc) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OSMO_CONFIG_OVERRIDE", t.TempDir())
	store, err := identity.New(identity.DefaultLoginConfig)
	if err != nil {
		t.Fatalf("identity.New() error = %v", err)
	}
	if err := store.DevLoginWith(srv.URL, "alice"); err != nil {
		t.Fatalf("DevLoginWith() error = %v", err)
	}
	client, err := serviceclient.New(srv.URL, store, nil)
	if err != nil {
		t.Fatalf("serviceclient.New() error = %v", err)
	}
	return NewPipeline(client)
}

func writeWorkflowFile(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("writing workflow file: %v", err)
	}
	return path
}

func jsonHandler(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		fn, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fn(w, r)
	}
}

const plainWorkflow = "name: demo\ntasks:\n  - name: t1\n    image: busybox\n"

func TestSubmitNonTemplatedWorkflow(t *testing.T) {
	path := writeWorkflowFile(t, plainWorkflow)

	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"POST /api/pool/default/workflow": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"workflow_id":   "wf-1",
				"overview":      "1 task",
				"dashboard_url": "https://osmo.example.com/wf-1",
			})
		},
	}))

	result, err := p.Submit(context.Background(), path, TemplateData{}, SubmitParams{Pool: "default"}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.WorkflowID != "wf-1" || result.DashboardURL != "https://osmo.example.com/wf-1" {
		t.Errorf("Submit() = %+v", result)
	}
}

func TestSubmitDryRunRequiresTemplatedFile(t *testing.T) {
	path := writeWorkflowFile(t, plainWorkflow)
	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){}))

	_, err := p.Submit(context.Background(), path, TemplateData{}, SubmitParams{Pool: "default", DryRun: true}, nil)
	if err == nil {
		t.Fatal("expected an error for --dry-run against a non-templated workflow")
	}
}

func TestSubmitResolvesDefaultPoolWhenUnset(t *testing.T) {
	path := writeWorkflowFile(t, plainWorkflow)

	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/profile": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"default_pool": "autopool"})
		},
		"POST /api/pool/autopool/workflow": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"workflow_id": "wf-2"})
		},
	}))

	result, err := p.Submit(context.Background(), path, TemplateData{}, SubmitParams{}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.WorkflowID != "wf-2" {
		t.Errorf("Submit() = %+v, want workflow_id wf-2", result)
	}
}

func TestValidateReturnsServerLogs(t *testing.T) {
	path := writeWorkflowFile(t, plainWorkflow)

	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"POST /api/pool/default/workflow": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("validation_only") != "true" {
				t.Errorf("expected validation_only=true, got %q", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"logs": "valid spec"})
		},
	}))

	logs, err := p.Validate(context.Background(), path, TemplateData{}, SubmitParams{Pool: "default"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if logs != "valid spec" {
		t.Errorf("Validate() = %q, want %q", logs, "valid spec")
	}
}

func TestRestartUsesWorkflowRecordedPool(t *testing.T) {
	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/workflow/wf-9": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"pool": "recorded-pool"})
		},
		"POST /api/pool/recorded-pool/workflow/wf-9/restart": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"workflow_id": "wf-9"})
		},
	}))

	result, err := p.Restart(context.Background(), "wf-9", SubmitParams{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if result.WorkflowID != "wf-9" || result.Priority != PriorityHigh {
		t.Errorf("Restart() = %+v", result)
	}
}

const templatedWorkflow = "name: demo\ntasks:\n  - name: t1\n    replicas: {{ replicas }}\n"

func TestSubmitDryRunSendsSetVariables(t *testing.T) {
	path := writeWorkflowFile(t, templatedWorkflow)

	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"POST /api/pool/default/workflow": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decoding request body: %v", err)
			}
			setVars, _ := body["set_variables"].([]interface{})
			if len(setVars) != 1 || setVars[0] != "replicas=4" {
				t.Errorf("set_variables = %+v, want [\"replicas=4\"]", body["set_variables"])
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"spec": "name: demo\ntasks:\n  - name: t1\n    replicas: 4\n"})
		},
	}))

	td := TemplateData{SetVariables: []string{"replicas=4"}}
	result, err := p.Submit(context.Background(), path, td, SubmitParams{Pool: "default", DryRun: true}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.Overview == "" {
		t.Error("Submit() dry-run result has no overview")
	}
}

func TestSubmitByIDSendsWorkflowIDParam(t *testing.T) {
	p := newTestPipeline(t, jsonHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"POST /api/pool/default/workflow": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("workflow_id"); got != "wf-existing" {
				t.Errorf("workflow_id query param = %q, want wf-existing", got)
			}
			if body, _ := io.ReadAll(r.Body); len(body) != 0 {
				t.Errorf("expected an empty body, got %q", body)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"workflow_id": "wf-existing", "overview": "resubmitted"})
		},
	}))

	result, err := p.SubmitByID(context.Background(), "wf-existing", SubmitParams{Pool: "default"})
	if err != nil {
		t.Fatalf("SubmitByID() error = %v", err)
	}
	if result.WorkflowID != "wf-existing" {
		t.Errorf("SubmitByID() = %+v, want workflow_id wf-existing", result)
	}
}

func TestResolveLocalPathJoinsRelativeToBaseDir(t *testing.T) {
	got := resolveLocalPath("/base/dir", "datasets/train")
	if got != filepath.Join("/base/dir", "datasets/train") {
		t.Errorf("resolveLocalPath() = %q", got)
	}
	if resolveLocalPath("/base/dir", "/abs/path") != "/abs/path" {
		t.Error("resolveLocalPath() should pass through an absolute path unchanged")
	}
}
