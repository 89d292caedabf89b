// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package inproc

import "strings"

// keyExprMatch checks if keyExpr matches the declared expression expr.
// Rules:
// - expr can contain '*' (single chunk wildcard) and '**' (any number of
//   chunks, only supported as the final chunk).
// - keyExpr must not contain wildcards.
func keyExprMatch(expr, keyExpr string) bool {
	if expr == "" || keyExpr == "" {
		return false
	}
	if expr == keyExpr {
		return true
	}

	exprChunks := strings.Split(expr, "/")
	keyChunks := strings.Split(keyExpr, "/")

	for i, ec := range exprChunks {
		if ec == "**" {
			// Matches the remainder, including nothing.
			return true
		}

		if i >= len(keyChunks) {
			return false
		}

		if ec == "*" {
			continue
		}

		if ec != keyChunks[i] {
			return false
		}
	}

	return len(exprChunks) == len(keyChunks)
}
