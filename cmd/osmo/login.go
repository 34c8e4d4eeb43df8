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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/NVIDIA/OSMO-sub002/internal/identity"
	"github.com/NVIDIA/OSMO-sub002/internal/osmoerrors"
)

func newLoginCmd() *cobra.Command {
	var (
		method         string
		username       string
		password       string
		passwordFile   string
		token          string
		tokenFile      string
		deviceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "login [url]",
		Short: "Authenticate against an OSMO service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}

			serviceURL := ""
			if len(args) == 1 {
				serviceURL = strings.TrimSuffix(args[0], "/")
			} else {
				serviceURL = app.Identity.ServiceURL()
			}
			if serviceURL == "" {
				return &osmoerrors.UserError{Message: "a service url is required for first login"}
			}

			if os.Getenv("OSMO_LOGIN_DEV") != "" && method == "" {
				method = "dev"
			}

			switch method {
			case "", "code":
				deviceEP := deviceEndpoint
				clientID := identity.DefaultLoginConfig.ClientID
				if deviceEP == "" {
					ep, cid, err := identity.FetchLoginInfo(cmd.Context(), serviceURL)
					if err != nil {
						return err
					}
					deviceEP, clientID = ep, cid
				}
				return app.Identity.DeviceCodeLogin(cmd.Context(), serviceURL, deviceEP, clientID)

			case "password":
				if username == "" {
					return &osmoerrors.UserError{Message: "--username is required for --method password"}
				}
				pw := password
				if pw == "" && passwordFile != "" {
					data, err := os.ReadFile(passwordFile)
					if err != nil {
						return err
					}
					pw = strings.TrimSpace(string(data))
				}
				if pw == "" {
					pw, err = promptSecret("Password: ")
					if err != nil {
						return err
					}
				}
				return app.Identity.OwnerPasswordLogin(cmd.Context(), serviceURL, username, pw)

			case "token":
				tok := token
				if tok == "" && tokenFile != "" {
					data, err := os.ReadFile(tokenFile)
					if err != nil {
						return err
					}
					tok = strings.TrimSpace(string(data))
				}
				if tok == "" {
					return &osmoerrors.UserError{Message: "--token or --token-file is required for --method token"}
				}
				refreshURL := serviceURL + "/" + identity.DefaultLoginConfig.DefaultTokenPath
				return app.Identity.TokenLoginWith(serviceURL, refreshURL, tok)

			case "dev":
				if username == "" {
					username = os.Getenv("USER")
				}
				return app.Identity.DevLoginWith(serviceURL, username)

			default:
				return &osmoerrors.UserError{Message: fmt.Sprintf("unknown --method %q", method)}
			}
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "login method: code, password, token, dev")
	cmd.Flags().StringVar(&username, "username", "", "username for password/dev login")
	cmd.Flags().StringVar(&password, "password", "", "password for password login")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "file containing the password")
	cmd.Flags().StringVar(&token, "token", "", "refresh token for token login")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "file containing the refresh token")
	cmd.Flags().StringVar(&deviceEndpoint, "device-endpoint", "", "override the discovered device-authorization endpoint")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the persisted login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			return app.Identity.Logout()
		},
	}
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
