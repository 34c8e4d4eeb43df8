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

// Package identity is the client's Identity & Token Store: it persists the
// last successful login, decorates outbound requests with an Authorization
// header, and refreshes the id token before every authenticated call.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	oidc "github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
	"sigs.k8s.io/yaml"

	"github.com/NVIDIA/OSMO-sub002/internal/config"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/utils"
)

func jsonDecode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func atomicWrite(path string, data []byte) error {
	return utils.AtomicWriteFile(path, data, 0o600)
}

// LoginConfig is static process configuration: read-only.
type LoginConfig struct {
	ClientID         string
	DefaultTokenPath string
}

// DefaultLoginConfig mirrors the teacher's auth-service defaults.
var DefaultLoginConfig = LoginConfig{
	ClientID:         "osmo-cli",
	DefaultTokenPath: "realms/osmo/protocol/openid-connect/token",
}

// TokenLogin is an OIDC-backed login: the refresh token is persisted and
// used to mint new id/access tokens on demand.
type TokenLogin struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	RefreshURL   string `json:"refresh_url"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// DevLogin carries an unverified username sent as a header — development
// only, never validated server-side.
type DevLogin struct {
	Username string `json:"username"`
}

// LoginStorage is the persisted record of the last successful
// authentication. Exactly one of TokenLogin, DevLogin, OsmoToken is set.
type LoginStorage struct {
	ServiceURL string      `json:"service_url"`
	TokenLogin *TokenLogin `json:"token_login,omitempty"`
	DevLogin   *DevLogin   `json:"dev_login,omitempty"`
	OsmoToken  string      `json:"osmo_token,omitempty"`
}

// Store is the process-wide handle onto the identity state: an explicit
// pass-through object (per spec.md §9 design notes), not a package global.
// Concurrent refreshes are serialized so at most one refresh is in flight.
type Store struct {
	mu       sync.Mutex
	path     string
	storage  *LoginStorage
	cfg      LoginConfig
	warnOnce sync.Once
}

// New loads (or prepares to create) the identity store at the default
// login.yaml location.
func New(cfg LoginConfig) (*Store, error) {
	path, err := config.LoginFilePath()
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, cfg: cfg}
	if data, err := os.ReadFile(path); err == nil {
		var storage LoginStorage
		if err := yaml.Unmarshal(data, &storage); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		s.storage = &storage
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) persist() error {
	data, err := yaml.Marshal(s.storage)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return atomicWrite(s.path, data)
}

// DeviceCodeLogin performs the OIDC device-authorization-grant flow: prints
// the verification URI/user code, then polls the token endpoint at the
// server-advertised interval until tokens are issued, a fatal provider error
// is returned, or the device code expires.
func (s *Store) DeviceCodeLogin(ctx context.Context, serviceURL, deviceEndpoint, clientID string) error {
	tokenURL, err := deriveTokenURL(serviceURL, deviceEndpoint)
	if err != nil {
		return &osmoerrors.UserError{Message: err.Error()}
	}

	oauthCfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: deviceEndpoint,
			TokenURL:      tokenURL,
		},
		Scopes: []string{"openid", "offline_access", "profile"},
	}

	resp, err := oauthCfg.DeviceAuth(ctx)
	if err != nil {
		return &osmoerrors.CredentialError{Message: fmt.Sprintf("device authorization request failed: %v", err)}
	}

	fmt.Printf("To authenticate, visit %s and enter code: %s\n", resp.VerificationURI, resp.UserCode)

	token, err := oauthCfg.DeviceAccessToken(ctx, resp)
	if err != nil {
		return &osmoerrors.CredentialError{Message: fmt.Sprintf("device login failed: %v", err)}
	}

	return s.storeToken(serviceURL, tokenURL, token)
}

// OwnerPasswordLogin performs the Resource-Owner-Password-Credentials flow
// directly against the token endpoint (x/oauth2 intentionally has no ROPC
// helper; it is a direct POST of grant_type=password).
func (s *Store) OwnerPasswordLogin(ctx context.Context, serviceURL, username, password string) error {
	tokenURL, err := deriveTokenURL(serviceURL, DefaultLoginConfig.DefaultTokenPath)
	if err != nil {
		return &osmoerrors.UserError{Message: err.Error()}
	}

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {s.cfg.ClientID},
		"username":   {username},
		"password":   {password},
		"scope":      {"openid offline_access profile"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &osmoerrors.ServerError{Message: err.Error()}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return &osmoerrors.CredentialError{Message: fmt.Sprintf("password login rejected: status %d", httpResp.StatusCode)}
	}

	var tok oauth2.Token
	if err := jsonDecode(httpResp.Body, &tok); err != nil {
		return err
	}
	return s.storeToken(serviceURL, tokenURL, &tok)
}

// TokenLoginWith stores a refresh URL and refresh token directly, without
// performing an interactive flow — used by `osmo login --method token`.
func (s *Store) TokenLoginWith(serviceURL, refreshURL, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = &LoginStorage{
		ServiceURL: serviceURL,
		TokenLogin: &TokenLogin{RefreshToken: refreshToken, RefreshURL: refreshURL},
	}
	return s.persist()
}

// DevLoginWith stores an unverified development username.
func (s *Store) DevLoginWith(serviceURL, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = &LoginStorage{ServiceURL: serviceURL, DevLogin: &DevLogin{Username: username}}
	return s.persist()
}

// Logout deletes the persisted login file.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = nil
	err := os.Remove(s.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// RefreshIDToken is idempotent: it is invoked before every authenticated
// request. When the stored token is close to expiry it calls the refresh
// URL and persists the result. Dev/osmo-token logins are no-ops.
func (s *Store) RefreshIDToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage == nil {
		return &osmoerrors.NotAuthenticatedError{}
	}
	if s.storage.TokenLogin == nil {
		return nil
	}

	tl := s.storage.TokenLogin
	if tl.ExpiresAt != 0 && time.Until(time.Unix(tl.ExpiresAt, 0)) > 30*time.Second {
		return nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tl.RefreshToken},
		"client_id":     {s.cfg.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tl.RefreshURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &osmoerrors.CredentialError{Message: fmt.Sprintf("token refresh failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &osmoerrors.ServerError{Message: "refresh endpoint unavailable", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return &osmoerrors.CredentialError{Message: fmt.Sprintf("token refresh rejected: status %d", resp.StatusCode)}
	}

	var tok oauth2.Token
	if err := jsonDecode(resp.Body, &tok); err != nil {
		return err
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken != "" {
		tl.IDToken = idToken
	}
	if tok.RefreshToken != "" {
		tl.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		tl.ExpiresAt = tok.Expiry.Unix()
	}
	return s.persist()
}

// AuthHeader returns the header name/value pair to attach to outbound
// requests, reflecting whichever login method is currently active.
func (s *Store) AuthHeader() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage == nil {
		return "", "", &osmoerrors.NotAuthenticatedError{}
	}
	switch {
	case s.storage.TokenLogin != nil:
		return "Authorization", "Bearer " + s.storage.TokenLogin.IDToken, nil
	case s.storage.DevLogin != nil:
		return "X-Osmo-Dev-User", s.storage.DevLogin.Username, nil
	case s.storage.OsmoToken != "":
		return "X-Osmo-Token", s.storage.OsmoToken, nil
	default:
		return "", "", &osmoerrors.NotAuthenticatedError{}
	}
}

// ServiceURL returns the persisted service URL, or "" if unauthenticated.
func (s *Store) ServiceURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storage == nil {
		return ""
	}
	return s.storage.ServiceURL
}

func (s *Store) storeToken(serviceURL, refreshURL string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}
	s.storage = &LoginStorage{
		ServiceURL: serviceURL,
		TokenLogin: &TokenLogin{
			IDToken:      idToken,
			RefreshToken: tok.RefreshToken,
			RefreshURL:   refreshURL,
			ExpiresAt:    tok.Expiry.Unix(),
		},
	}
	return s.persist()
}

// FetchLoginInfo discovers the device endpoint and client id the service
// advertises, mirroring the Python CLI's login.fetch_login_info(url). The
// device authorization endpoint isn't part of go-oidc's typed Endpoint, so
// it's pulled out of the raw discovery document (RFC 8628's
// device_authorization_endpoint) via Provider.Claims.
func FetchLoginInfo(ctx context.Context, serviceURL string) (deviceEndpoint, clientID string, err error) {
	issuer := strings.TrimSuffix(serviceURL, "/") + "/realms/osmo"
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", "", &osmoerrors.ServerError{Message: fmt.Sprintf("discovering OIDC provider: %v", err)}
	}
	var discovery struct {
		DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil || discovery.DeviceAuthorizationEndpoint == "" {
		return "", "", &osmoerrors.ServerError{Message: "OIDC provider did not advertise a device authorization endpoint"}
	}
	return discovery.DeviceAuthorizationEndpoint, DefaultLoginConfig.ClientID, nil
}

func deriveTokenURL(serviceURL, deviceEndpoint string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid service url %q", serviceURL)
	}
	base := strings.TrimSuffix(serviceURL, "/")
	return base + "/" + DefaultLoginConfig.DefaultTokenPath, nil
}
