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

package serviceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NVIDIA/OSMO-sub002/internal/identity"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
)

func newDevStore(t *testing.T, serviceURL string) *identity.Store {
	t.Helper()
	t.Setenv("OSMO_CONFIG_OVERRIDE", t.TempDir())
	store, err := identity.New(identity.DefaultLoginConfig)
	if err != nil {
		t.Fatalf("identity.New() error = %v", err)
	}
	if err := store.DevLoginWith(serviceURL, "alice"); err != nil {
		t.Fatalf("DevLoginWith() error = %v", err)
	}
	return store
}

func TestRequestDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Osmo-Dev-User") != "alice" {
			t.Errorf("missing dev-login auth header, got %q", r.Header.Get("X-Osmo-Dev-User"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"workflow_id":"wf-1"}`))
	}))
	defer srv.Close()

	store := newDevStore(t, srv.URL)
	client, err := New(srv.URL, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := client.Request(context.Background(), "GET", "/api/workflow/wf-1", RequestOpts{}, JSON)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok || m["workflow_id"] != "wf-1" {
		t.Errorf("Request() = %v, want a workflow_id of wf-1", result)
	}
}

func TestRequestMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such workflow"))
	}))
	defer srv.Close()

	store := newDevStore(t, srv.URL)
	client, err := New(srv.URL, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = client.Request(context.Background(), "GET", "/api/workflow/missing", RequestOpts{}, JSON)
	var notFound *osmoerrors.NotFoundError
	if !asNotFound(err, &notFound) {
		t.Errorf("Request() error = %v, want *osmoerrors.NotFoundError", err)
	}
}

func TestRequestMapsCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer srv.Close()

	store := newDevStore(t, srv.URL)
	client, err := New(srv.URL, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = client.Request(context.Background(), "GET", "/api/workflow/wf-1", RequestOpts{}, JSON)
	if _, ok := err.(*osmoerrors.CredentialError); !ok {
		t.Errorf("Request() error type = %T, want *osmoerrors.CredentialError", err)
	}
}

func TestRequestRequiresAuthentication(t *testing.T) {
	t.Setenv("OSMO_CONFIG_OVERRIDE", t.TempDir())
	store, err := identity.New(identity.DefaultLoginConfig)
	if err != nil {
		t.Fatalf("identity.New() error = %v", err)
	}
	client, err := New("https://osmo.example.com", store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = client.Request(context.Background(), "GET", "/api/workflow/wf-1", RequestOpts{}, JSON)
	if _, ok := err.(*osmoerrors.NotAuthenticatedError); !ok {
		t.Errorf("Request() error type = %T, want *osmoerrors.NotAuthenticatedError", err)
	}
}

func TestSessionCookieFetchesFreshWithNoAdvertisedTTL(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
	}))
	defer srv.Close()

	store := newDevStore(t, srv.URL)
	client, err := New(srv.URL, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := client.SessionCookie(context.Background(), srv.URL); err != nil {
			t.Fatalf("SessionCookie() error = %v", err)
		}
	}
	if hits != 3 {
		t.Errorf("got %d requests to the version endpoint, want 3 (a fresh cookie per connection)", hits)
	}
}

func TestSessionCookieHonorsAdvertisedTTL(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", MaxAge: 3600})
	}))
	defer srv.Close()

	store := newDevStore(t, srv.URL)
	client, err := New(srv.URL, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := client.SessionCookie(context.Background(), srv.URL); err != nil {
			t.Fatalf("SessionCookie() error = %v", err)
		}
	}
	if hits != 1 {
		t.Errorf("got %d requests to the version endpoint, want exactly 1 (cached within the advertised TTL)", hits)
	}
}

func asNotFound(err error, target **osmoerrors.NotFoundError) bool {
	if nf, ok := err.(*osmoerrors.NotFoundError); ok {
		*target = nf
		return true
	}
	return false
}
