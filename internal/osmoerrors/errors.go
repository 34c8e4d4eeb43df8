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

// Package osmoerrors defines the client-facing error taxonomy: the kinds a
// caller of the service client or workflow pipeline must distinguish in
// order to print the right message and pick an exit code.
package osmoerrors

import "fmt"

// UserError is an input or validation failure. Prints message, exits nonzero.
type UserError struct {
	Message    string
	WorkflowID string
}

func (e *UserError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("%s (workflow_id=%s)", e.Message, e.WorkflowID)
	}
	return e.Message
}

// CredentialError is an authentication/authorization failure on the
// submission path.
type CredentialError struct {
	Message    string
	WorkflowID string
}

func (e *CredentialError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("%s (workflow_id=%s)", e.Message, e.WorkflowID)
	}
	return e.Message
}

// SubmissionError is a server-declared submission problem with a structured
// error code.
type SubmissionError struct {
	Message    string
	ErrorCode  string
	WorkflowID string
}

func (e *SubmissionError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("%s [%s] (workflow_id=%s)", e.Message, e.ErrorCode, e.WorkflowID)
	}
	return fmt.Sprintf("%s [%s]", e.Message, e.ErrorCode)
}

// ServerError is an HTTP 5xx or a transport failure after retries are
// exhausted.
type ServerError struct {
	Message    string
	StatusCode int
	Headers    map[string]string
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// NotFoundError is a 404 on a GET by identifier.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// NotAuthenticatedError is raised when an authenticated call is attempted
// with no persisted login.
type NotAuthenticatedError struct{}

func (e *NotAuthenticatedError) Error() string {
	return "not authenticated: run 'osmo login' first"
}

// TimeoutError wraps a subprocess or network timeout, matching the
// teacher's own TimeoutError shape from runtime/pkg/osmo_errors.
type TimeoutError struct {
	S string
}

func (e *TimeoutError) Error() string {
	return e.S
}

// ExitCode maps an error kind to a process exit code. Every kind currently
// maps to 1; the distinction carries in the printed message, not the code,
// matching spec.md's "nonzero on fatal error" contract.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
