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

// Package tunnel implements the control-channel tunneling scaffold shared
// by TCP/UDP port-forward, exec, and the rsync tunnel: a control WebSocket
// that multiplexes per-connection {key, cookie} handshakes into data
// WebSockets, bidirectionally copied with an optional send-side rate limit.
//
// This is the direct client-side counterpart of the teacher's device-side
// forwarder (runtime/cmd/ctrl); the wire framing (control JSON messages,
// the 6-byte UDP address header, the bidirectional-copy-with-firstDone
// idiom) is kept, generalized to dial outward from the CLI instead of
// accepting inbound router connections.
package tunnel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/conduitio/bwlimit"
	"github.com/gorilla/websocket"

	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
	"github.com/NVIDIA/OSMO-sub002/utils"
)

// Params are the ephemeral connection parameters a tunneled operation is
// issued by the service: RsyncPortForwardParams generalized to any tunnel
// kind.
type Params struct {
	RouterAddress string `json:"router_address"`
	Key           string `json:"key"`
	Cookie        string `json:"cookie"`
}

// handshake is the JSON control message sent over the control WebSocket for
// each new data connection.
type handshake struct {
	Key    string `json:"key"`
	Cookie string `json:"cookie"`
}

// RetryableStatus reports whether a server-declared HTTP status code should
// trigger a reconnect-with-backoff rather than a fatal abort, per
// spec.md §4.5's retry list.
func RetryableStatus(status int) bool {
	switch status {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// PortPair is one (local, remote) port in an expanded PortForward tuple set.
type PortPair struct {
	Local  int
	Remote int
}

// Session owns the control WebSocket for one (workflow, task, port) tunnel
// and all data connections it spawns. Shutdown is driven by closing Stop.
type Session struct {
	Client   *serviceclient.Client
	Logger   *slog.Logger
	Workflow string

	// WriteLimitBps bounds the local->remote (upload) byte rate, 0 for
	// unlimited. Used by the rsync tunnel to cap upload throughput.
	// ReadLimitBps is not applied by any copy loop.
	ReadLimitBps  int
	WriteLimitBps int

	mu      sync.Mutex
	stopped bool
}

// Stop marks the session stopped; in-flight copy loops observe this on
// their next read/write error and exit rather than reconnecting.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// dialControl opens the control WebSocket for the given operation endpoint
// (e.g. "/api/router/portforward/<task>/backend/<key>"), retrying with the
// spec's exponential backoff on transient failure.
func (s *Session) dialControl(ctx context.Context, params Params, opEndpoint string) (*websocket.Conn, error) {
	var lastErr error
	for retry := 0; retry < 10; retry++ {
		conn, err := s.Client.OpenWebSocket(ctx, params.RouterAddress, opEndpoint, serviceclient.RequestOpts{
			Headers: map[string]string{"Cookie": params.Cookie},
		}, 10*time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if se, ok := err.(*osmoerrors.ServerError); ok && !RetryableStatus(se.StatusCode) && se.StatusCode != 0 {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(utils.TunnelReconnectDelay(retry)):
		}
	}
	return nil, lastErr
}

// ServeTCPPortForward opens a TCP listener on host:localPort for a single
// (local, remote) pair, the control WebSocket for remotePort's backend, and
// dispatches every accepted connection to a bidirectional copy against a
// freshly-dialed data WebSocket. Reconnects the control channel with
// exponential backoff on disconnect until Stop is called.
func (s *Session) ServeTCPPortForward(ctx context.Context, host string, pair PortPair, fetchParams func(ctx context.Context) (Params, error)) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, pair.Local))
	if err != nil {
		return &osmoerrors.UserError{Message: fmt.Sprintf("binding local port %d: %v", pair.Local, err)}
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for retry := 0; ; retry++ {
		if s.isStopped() {
			return nil
		}
		params, err := fetchParams(ctx)
		if err != nil {
			if se, ok := err.(*osmoerrors.ServerError); ok && RetryableStatus(se.StatusCode) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(utils.TunnelReconnectDelay(retry)):
					continue
				}
			}
			return err
		}

		endpoint := fmt.Sprintf("/api/router/portforward/%s/backend/%s", s.Workflow, params.Key)
		controlConn, err := s.dialControl(ctx, params, endpoint)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(utils.TunnelReconnectDelay(retry)):
				continue
			}
		}

		err = s.acceptLoop(ctx, listener, controlConn, params)
		controlConn.Close()
		if s.isStopped() || err == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.TunnelReconnectDelay(retry)):
		}
	}
}

func (s *Session) acceptLoop(ctx context.Context, listener net.Listener, controlConn *websocket.Conn, params Params) error {
	for {
		localConn, err := listener.Accept()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			return err
		}
		cookie, err := s.Client.SessionCookie(ctx, params.RouterAddress)
		if err != nil {
			localConn.Close()
			continue
		}
		if err := controlConn.WriteJSON(handshake{Key: params.Key, Cookie: cookie}); err != nil {
			localConn.Close()
			return err
		}
		go s.bridgeTCP(ctx, localConn, params, cookie)
	}
}

// bridgeTCP dials the per-connection data WebSocket and copies bytes in
// both directions, tearing down both ends the instant either side's copy
// goroutine returns.
func (s *Session) bridgeTCP(ctx context.Context, localConn net.Conn, params Params, cookie string) {
	defer localConn.Close()

	endpoint := fmt.Sprintf("/api/router/portforward/%s/backend/%s", s.Workflow, params.Key)
	remoteConn, err := s.Client.OpenWebSocket(ctx, params.RouterAddress, endpoint, serviceclient.RequestOpts{
		Headers: map[string]string{"Cookie": cookie},
	}, 10*time.Second)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("bridgeTCP: dial failed", "error", err)
		}
		return
	}
	defer remoteConn.Close()

	var wg sync.WaitGroup
	firstDone := make(chan struct{})
	var once sync.Once
	wg.Add(2)

	// The send direction (local -> remote, i.e. upload) is the one
	// spec.md §4.5 rate-limits; bwlimit.NewConn wraps the local socket
	// with a read-side cap, mirroring the teacher's own
	// bwlimit.NewListener use for the server-side rsync daemon.
	var reader io.Reader = localConn
	if s.WriteLimitBps > 0 {
		limited := bwlimit.NewConn(localConn, bwlimit.Byte(0), bwlimit.Byte(s.WriteLimitBps))
		reader = limited
	}

	go func() {
		defer wg.Done()
		defer once.Do(func() { close(firstDone) })
		buf := make([]byte, 32*1024)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				if werr := remoteConn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer once.Do(func() { close(firstDone) })
		for {
			_, data, err := remoteConn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := localConn.Write(data); err != nil {
				return
			}
		}
	}()

	<-firstDone
	remoteConn.Close()
	localConn.Close()
	wg.Wait()
}

// ServeUDPPortForward binds a single UDP socket on host:localPort, framing
// datagrams to/from the control WebSocket as IP(4) || PORT(2) || payload.
// On darwin, callers should pass "127.0.0.1" explicitly rather than
// "localhost"/"::1" to avoid the platform's dual-stack bind quirks.
func (s *Session) ServeUDPPortForward(ctx context.Context, host string, pair PortPair, fetchParams func(ctx context.Context) (Params, error)) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, pair.Local))
	if err != nil {
		return &osmoerrors.UserError{Message: err.Error()}
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &osmoerrors.UserError{Message: fmt.Sprintf("binding local udp port %d: %v", pair.Local, err)}
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	params, err := fetchParams(ctx)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("/api/router/portforward/%s/backend/%s", s.Workflow, params.Key)
	controlConn, err := s.dialControl(ctx, params, endpoint)
	if err != nil {
		return err
	}
	defer controlConn.Close()

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			frame := encodeUDPFrame(peer, buf[:n])
			if err := controlConn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := controlConn.ReadMessage()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			return err
		}
		peer, payload, err := decodeUDPFrame(data)
		if err != nil {
			continue
		}
		if _, err := conn.WriteToUDP(payload, peer); err != nil {
			continue
		}
	}
}

// encodeUDPFrame prepends the 4-byte IPv4 address and 2-byte port to data.
func encodeUDPFrame(addr *net.UDPAddr, data []byte) []byte {
	frame := make([]byte, 6+len(data))
	ip4 := addr.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(frame[0:4], ip4)
	binary.BigEndian.PutUint16(frame[4:6], uint16(addr.Port))
	copy(frame[6:], data)
	return frame
}

// decodeUDPFrame reverses encodeUDPFrame.
func decodeUDPFrame(frame []byte) (*net.UDPAddr, []byte, error) {
	if len(frame) < 6 {
		return nil, nil, fmt.Errorf("short udp frame: %d bytes", len(frame))
	}
	ip := net.IPv4(frame[0], frame[1], frame[2], frame[3])
	port := binary.BigEndian.Uint16(frame[4:6])
	return &net.UDPAddr{IP: ip, Port: int(port)}, frame[6:], nil
}

// RequestParams posts to endpoint to obtain fresh Params for a tunnel
// operation, decoding the JSON {router_address, key, cookie} response.
func RequestParams(ctx context.Context, client *serviceclient.Client, endpoint string, body interface{}) (Params, error) {
	raw, err := client.Request(ctx, "POST", endpoint, serviceclient.RequestOpts{Payload: body}, serviceclient.JSON)
	if err != nil {
		return Params{}, err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Params{}, err
	}
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return Params{}, err
	}
	return params, nil
}

// ParsePortSpec parses the PortList grammar from spec.md §6:
// PortList := Item (, Item)*; Item := Number (':' Number)? | Range (':' Range)?.
// It returns the expanded, equal-length local and remote port lists.
func ParsePortSpec(spec string) ([]int, []int, error) {
	items := splitTopLevel(spec, ',')
	var local, remote []int
	for _, item := range items {
		halves := splitTopLevel(item, ':')
		if len(halves) > 2 {
			return nil, nil, &osmoerrors.UserError{Message: fmt.Sprintf("invalid port item %q: more than one ':'", item)}
		}
		localPart := halves[0]
		remotePart := halves[0]
		if len(halves) == 2 {
			remotePart = halves[1]
		}
		l, err := expandPortRange(localPart)
		if err != nil {
			return nil, nil, err
		}
		r, err := expandPortRange(remotePart)
		if err != nil {
			return nil, nil, err
		}
		if len(l) != len(r) {
			return nil, nil, &osmoerrors.UserError{Message: fmt.Sprintf("mismatched range lengths in %q", item)}
		}
		local = append(local, l...)
		remote = append(remote, r...)
	}
	if len(local) != len(remote) {
		return nil, nil, &osmoerrors.UserError{Message: "local/remote port count mismatch"}
	}
	return local, remote, nil
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func expandPortRange(s string) ([]int, error) {
	if s == "" {
		return nil, &osmoerrors.UserError{Message: "empty port value"}
	}
	dashIdx := -1
	for i := 1; i < len(s); i++ {
		if s[i] == '-' {
			dashIdx = i
			break
		}
	}
	if dashIdx < 0 {
		n, err := parsePort(s)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	n1, err := parsePort(s[:dashIdx])
	if err != nil {
		return nil, err
	}
	n2, err := parsePort(s[dashIdx+1:])
	if err != nil {
		return nil, err
	}
	if !(n1 < n2) {
		return nil, &osmoerrors.UserError{Message: fmt.Sprintf("invalid range %q: need N1 < N2", s)}
	}
	out := make([]int, 0, n2-n1+1)
	for p := n1; p <= n2; p++ {
		out = append(out, p)
	}
	return out, nil
}

func parsePort(s string) (int, error) {
	var n int
	if s == "" {
		return 0, &osmoerrors.UserError{Message: "empty port"}
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &osmoerrors.UserError{Message: fmt.Sprintf("non-numeric port %q", s)}
		}
		n = n*10 + int(c-'0')
	}
	if n < 0 || n > 65535 {
		return 0, &osmoerrors.UserError{Message: fmt.Sprintf("port %q out of range [0,65535]", s)}
	}
	return n, nil
}

// SplitSrcDst splits a "src:dst" argument at the first unescaped colon;
// "\:" in src is unescaped to a literal ":".
func SplitSrcDst(arg string) (src, dst string, err error) {
	var b []byte
	i := 0
	for i < len(arg) {
		if arg[i] == '\\' && i+1 < len(arg) && arg[i+1] == ':' {
			b = append(b, ':')
			i += 2
			continue
		}
		if arg[i] == ':' {
			return string(b), arg[i+1:], nil
		}
		b = append(b, arg[i])
		i++
	}
	return "", "", &osmoerrors.UserError{Message: fmt.Sprintf("%q: missing ':' delimiter between src and dst", arg)}
}
