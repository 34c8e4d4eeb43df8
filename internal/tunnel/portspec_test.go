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
	"reflect"
	"testing"
)

func TestParsePortSpecSingle(t *testing.T) {
	local, remote, err := ParsePortSpec("8080")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	if !reflect.DeepEqual(local, []int{8080}) || !reflect.DeepEqual(remote, []int{8080}) {
		t.Errorf("got local=%v remote=%v, want [8080]/[8080]", local, remote)
	}
}

func TestParsePortSpecMapped(t *testing.T) {
	local, remote, err := ParsePortSpec("8080:80")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	if !reflect.DeepEqual(local, []int{8080}) || !reflect.DeepEqual(remote, []int{80}) {
		t.Errorf("got local=%v remote=%v, want [8080]/[80]", local, remote)
	}
}

func TestParsePortSpecMultipleAndRanges(t *testing.T) {
	local, remote, err := ParsePortSpec("8080:80,9000-9002")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	wantLocal := []int{8080, 9000, 9001, 9002}
	wantRemote := []int{80, 9000, 9001, 9002}
	if !reflect.DeepEqual(local, wantLocal) || !reflect.DeepEqual(remote, wantRemote) {
		t.Errorf("got local=%v remote=%v, want %v/%v", local, remote, wantLocal, wantRemote)
	}
}

func TestParsePortSpecRangeMapping(t *testing.T) {
	local, remote, err := ParsePortSpec("9000-9002:9100-9102")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	wantLocal := []int{9000, 9001, 9002}
	wantRemote := []int{9100, 9101, 9102}
	if !reflect.DeepEqual(local, wantLocal) || !reflect.DeepEqual(remote, wantRemote) {
		t.Errorf("got local=%v remote=%v, want %v/%v", local, remote, wantLocal, wantRemote)
	}
}

func TestParsePortSpecRejectsMismatchedRangeLengths(t *testing.T) {
	if _, _, err := ParsePortSpec("9000-9002:9100-9101"); err == nil {
		t.Error("expected an error for mismatched range lengths")
	}
}

func TestParsePortSpecRejectsInvertedRange(t *testing.T) {
	if _, _, err := ParsePortSpec("9002-9000"); err == nil {
		t.Error("expected an error for an inverted range")
	}
}

func TestParsePortSpecRejectsNonNumeric(t *testing.T) {
	if _, _, err := ParsePortSpec("abc"); err == nil {
		t.Error("expected an error for a non-numeric port")
	}
}

func TestParsePortSpecRejectsOutOfRange(t *testing.T) {
	if _, _, err := ParsePortSpec("70000"); err == nil {
		t.Error("expected an error for a port above 65535")
	}
}

func TestSplitSrcDst(t *testing.T) {
	cases := []struct {
		name    string
		arg     string
		wantSrc string
		wantDst string
		wantErr bool
	}{
		{"plain", "local/path:/remote/path", "local/path", "/remote/path", false},
		{"escaped colon in src", `C\:/path:/remote/path`, "C:/path", "/remote/path", false},
		{"missing delimiter", "no-colon-here", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src, dst, err := SplitSrcDst(tc.arg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitSrcDst() error = %v", err)
			}
			if src != tc.wantSrc || dst != tc.wantDst {
				t.Errorf("got src=%q dst=%q, want src=%q dst=%q", src, dst, tc.wantSrc, tc.wantDst)
			}
		})
	}
}
