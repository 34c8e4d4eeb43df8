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

package tunnel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/NVIDIA/OSMO-sub002/internal/serviceclient"
	"github.com/NVIDIA/OSMO-sub002/utils"
)

// sizeMessage is the first control frame sent over an interactive exec's
// data WebSocket: the local terminal's current dimensions.
type sizeMessage struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// RunInteractiveExec bridges stdin/stdout to the remote task's PTY over a
// single data WebSocket. The local terminal is switched to raw mode for the
// session's duration and restored on any exit path (signal, EOF, error).
// When keepAlive is set, transport failures reconnect with the tunnel's
// exponential backoff instead of returning.
func RunInteractiveExec(ctx context.Context, client *serviceclient.Client, params Params, endpoint string, keepAlive bool) error {
	fd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(fd) {
		var err error
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, oldState)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	for retry := 0; ; retry++ {
		err := runExecOnce(ctx, client, params, endpoint, sigCh)
		if err == nil || !keepAlive {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.TunnelReconnectDelay(retry)):
		}
	}
}

func runExecOnce(ctx context.Context, client *serviceclient.Client, params Params, endpoint string, sigCh chan os.Signal) error {
	conn, err := client.OpenWebSocket(ctx, params.RouterAddress, endpoint, serviceclient.RequestOpts{
		Headers: map[string]string{"Cookie": params.Cookie},
	}, 10*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, cols := 24, 80
	if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
		rows, cols = int(ws.Rows), int(ws.Cols)
	}
	if err := conn.WriteJSON(sizeMessage{Rows: rows, Cols: cols}); err != nil {
		return err
	}

	var wg sync.WaitGroup
	firstDone := make(chan struct{})
	var once sync.Once
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer once.Do(func() { close(firstDone) })
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
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
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := os.Stdout.Write(data); err != nil {
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-firstDone:
				return
			case <-sigCh:
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					conn.WriteJSON(sizeMessage{Rows: int(ws.Rows), Cols: int(ws.Cols)})
				}
			}
		}
	}()

	<-firstDone
	conn.Close()
	wg.Wait()
	return nil
}

// GroupExecTarget is one task's connection params within a group exec
// fan-out.
type GroupExecTarget struct {
	TaskName string
	Params   Params
	Endpoint string
}

// RunGroupExec connects to every target concurrently and prefixes every
// output line with "[task_name] " until all peers close, per spec.md
// §4.4's non-interactive group exec contract.
func RunGroupExec(ctx context.Context, client *serviceclient.Client, targets []GroupExecTarget) error {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, target := range targets {
		wg.Add(1)
		go func(t GroupExecTarget) {
			defer wg.Done()
			conn, err := client.OpenWebSocket(ctx, t.Params.RouterAddress, t.Endpoint, serviceclient.RequestOpts{
				Headers: map[string]string{"Cookie": t.Params.Cookie},
			}, 10*time.Second)
			if err != nil {
				mu.Lock()
				fmt.Fprintf(os.Stderr, "[%s] connect error: %v\n", t.TaskName, err)
				mu.Unlock()
				return
			}
			defer conn.Close()

			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if err != io.EOF {
						mu.Lock()
						fmt.Fprintf(os.Stderr, "[%s] error: %v\n", t.TaskName, err)
						mu.Unlock()
					}
					return
				}
				mu.Lock()
				start := 0
				for i, b := range data {
					if b == '\n' {
						fmt.Printf("[%s] %s", t.TaskName, data[start:i+1])
						start = i + 1
					}
				}
				if start < len(data) {
					fmt.Printf("[%s] %s", t.TaskName, data[start:])
				}
				mu.Unlock()
			}
		}(target)
	}

	wg.Wait()
	return nil
}
