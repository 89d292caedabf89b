// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package inproc

import "testing"

func TestKeyExprMatch(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		keyExpr string
		want    bool
	}{
		{"exact match", "demo/topic", "demo/topic", true},
		{"exact mismatch", "demo/topic", "demo/other", false},
		{"single chunk wildcard", "demo/*", "demo/topic", true},
		{"single chunk wildcard wrong depth", "demo/*", "demo/topic/deep", false},
		{"wildcard mid expression", "demo/*/state", "demo/robot1/state", true},
		{"wildcard mid expression mismatch", "demo/*/state", "demo/robot1/cmd", false},
		{"multi chunk wildcard", "demo/**", "demo/a/b/c", true},
		{"multi chunk matches bare parent", "demo/**", "demo", true},
		{"multi chunk after prefix", "rt/**", "rt/chatter", true},
		{"empty expr", "", "demo", false},
		{"empty key", "demo", "", false},
		{"expr longer than key", "demo/topic/deep", "demo/topic", false},
		{"key longer than expr", "demo/topic", "demo/topic/deep", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := keyExprMatch(tc.expr, tc.keyExpr); got != tc.want {
				t.Fatalf("keyExprMatch(%q, %q) = %v, want %v", tc.expr, tc.keyExpr, got, tc.want)
			}
		})
	}
}
