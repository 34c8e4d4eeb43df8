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

// Package serviceclient is the authenticated request/response bridge to the
// OSMO service: HTTP requests with response-mode decoding and error-kind
// mapping, plus a WebSocket dialer for the tunneling operations.
package serviceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gorilla/websocket"

	"github.com/NVIDIA/OSMO-sub002/internal/identity"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/version"
)

// ResponseMode is the tagged variant spec.md §9 calls for: the caller
// declares how to decode a 2xx body.
type ResponseMode int

const (
	JSON ResponseMode = iota
	PlainText
	Binary
	Streaming
)

// RequestOpts carries the optional pieces of a request.
type RequestOpts struct {
	Headers map[string]string
	Payload interface{}
	Params  url.Values
}

// Client is the Service Client: every call refreshes the identity store,
// decorates headers, and maps non-2xx responses into the osmoerrors
// taxonomy.
type Client struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Identity   *identity.Store
	Logger     *slog.Logger

	cookieCache *lru.Cache[string, cookieCacheEntry]
	warnOnce    sync.Once
}

// cookieCacheEntry holds a session cookie alongside the time it stops being
// valid. A router that advertises no TTL (no Max-Age/Expires on its
// Set-Cookie) yields an entry that is already expired, so SessionCookie
// falls back to fetching fresh on every call, per spec.md §4.4.
type cookieCacheEntry struct {
	cookie    string
	expiresAt time.Time
}

// New constructs a Client against baseURL, backed by store for
// authentication.
func New(baseURL string, store *identity.Store, logger *slog.Logger) (*Client, error) {
	cache, err := lru.New[string, cookieCacheEntry](32)
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		UserAgent:   "osmo-cli/" + version.Load().String(),
		HTTPClient:  &http.Client{Timeout: 60 * time.Second},
		Identity:    store,
		Logger:      logger,
		cookieCache: cache,
	}, nil
}

func (c *Client) decorate(ctx context.Context, req *http.Request, streaming bool) error {
	if err := c.Identity.RefreshIDToken(ctx); err != nil {
		return err
	}
	headerName, headerValue, err := c.Identity.AuthHeader()
	if err != nil {
		return err
	}
	req.Header.Set(headerName, headerValue)
	req.Header.Set("x-osmo-client-version", version.Load().String())
	req.Header.Set("User-Agent", c.UserAgent)
	if streaming {
		// Streaming calls disable total timeout per spec.md §4.2; Request
		// sends them through a copy of HTTPClient with Timeout cleared.
	}
	return nil
}

// Request issues method against endpoint and decodes per mode. It makes up
// to 5 attempts in all, retrying transport failures and 5xx responses, when
// a version header is attached (always, per decorate above).
func (c *Client) Request(ctx context.Context, method, endpoint string, opts RequestOpts, mode ResponseMode) (interface{}, error) {
	var body io.Reader
	var contentType string
	if opts.Payload != nil {
		data, err := json.Marshal(opts.Payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	u := c.BaseURL + endpoint
	if len(opts.Params) > 0 {
		u += "?" + opts.Params.Encode()
	}

	httpClient := c.HTTPClient
	if mode == Streaming {
		noTimeout := *c.HTTPClient
		noTimeout.Timeout = 0
		httpClient = &noTimeout
	}

	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if err := c.decorate(ctx, req, mode == Streaming); err != nil {
			return nil, err
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = &osmoerrors.ServerError{Message: err.Error()}
			if attempt < maxAttempts-1 {
				time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
				continue
			}
			return nil, lastErr
		}

		c.surfaceVersionWarning(resp)

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &osmoerrors.ServerError{
				Message:    "server error",
				StatusCode: resp.StatusCode,
				Headers:    flattenHeader(resp.Header),
				Body:       string(body),
			}
			if attempt < maxAttempts-1 {
				time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusNotFound {
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			return nil, &osmoerrors.NotFoundError{Message: string(data)}
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, decode4xxError(resp)
		}

		return decodeSuccess(resp, mode)
	}
	return nil, lastErr
}

func decode4xxError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var structured struct {
		ErrorCode  string `json:"error_code"`
		Message    string `json:"message"`
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(data, &structured); err != nil || structured.Message == "" {
		return &osmoerrors.UserError{Message: string(data)}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &osmoerrors.CredentialError{Message: structured.Message, WorkflowID: structured.WorkflowID}
	}
	if structured.ErrorCode != "" {
		return &osmoerrors.SubmissionError{
			Message:    structured.Message,
			ErrorCode:  structured.ErrorCode,
			WorkflowID: structured.WorkflowID,
		}
	}
	return &osmoerrors.UserError{Message: structured.Message, WorkflowID: structured.WorkflowID}
}

func decodeSuccess(resp *http.Response, mode ResponseMode) (interface{}, error) {
	switch mode {
	case JSON:
		defer resp.Body.Close()
		var v interface{}
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case PlainText:
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case Binary:
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	case Streaming:
		// Caller owns resp.Body and must close it after iterating.
		return resp.Body, nil
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unknown response mode %v", mode)
	}
}

// surfaceVersionWarning base64-decodes a version-warning header, if present,
// and prints it to stderr exactly once per process per spec.md invariant 12.
func (c *Client) surfaceVersionWarning(resp *http.Response) {
	warning := resp.Header.Get("x-osmo-version-warning")
	if warning == "" {
		return
	}
	c.warnOnce.Do(func() {
		decoded, err := base64.StdEncoding.DecodeString(warning)
		if err != nil {
			return
		}
		fmt.Fprintln(os.Stderr, string(decoded))
	})
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// OpenWebSocket dials a WebSocket at address+endpoint, converting the
// scheme from http(s) to ws(s) and attaching auth headers. Per-router
// session cookies are cached (LRU, keyed by router address) to avoid a
// redundant GET /api/router/version round trip on rapid reconnects.
func (c *Client) OpenWebSocket(ctx context.Context, address, endpoint string, opts RequestOpts, timeout time.Duration) (*websocket.Conn, error) {
	wsURL, err := toWebSocketURL(address + endpoint)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}
	if err := c.Identity.RefreshIDToken(ctx); err != nil {
		return nil, err
	}
	headerName, headerValue, err := c.Identity.AuthHeader()
	if err != nil {
		return nil, err
	}
	headers.Set(headerName, headerValue)

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && resp.StatusCode >= 500 {
			return nil, &osmoerrors.ServerError{Message: err.Error(), StatusCode: resp.StatusCode}
		}
		return nil, &osmoerrors.ServerError{Message: fmt.Sprintf("websocket dial failed: %v", err)}
	}
	return conn, nil
}

// SessionCookie returns a session cookie for routerAddress, fetching a
// fresh one via GET /api/router/version whenever the cached entry has
// expired. Per spec.md §4.4 the client requests a fresh cookie "for each
// new local connection"; a router that doesn't advertise a cookie TTL gets
// exactly that, since an entry with no Max-Age/Expires is cached already
// expired.
func (c *Client) SessionCookie(ctx context.Context, routerAddress string) (string, error) {
	if entry, ok := c.cookieCache.Get(routerAddress); ok && time.Now().Before(entry.expiresAt) {
		return entry.cookie, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, routerAddress+"/api/router/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &osmoerrors.ServerError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var cookie string
	expiresAt := time.Now()
	for _, ck := range resp.Cookies() {
		cookie = ck.String()
		switch {
		case ck.MaxAge > 0:
			expiresAt = time.Now().Add(time.Duration(ck.MaxAge) * time.Second)
		case !ck.Expires.IsZero():
			expiresAt = ck.Expires
		}
		break
	}
	c.cookieCache.Add(routerAddress, cookieCacheEntry{cookie: cookie, expiresAt: expiresAt})
	return cookie, nil
}

func toWebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
