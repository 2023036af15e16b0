/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"strings"
	"testing"
)

func TestIsIdentifier(t *testing.T) {
	for input, want := range map[string]bool{
		"a":              true,
		"plan":           true,
		"review_threads": true,
		"Job2":           true,
		"":               false,
		"_plan":          false,
		"2plan":          false,
		"plan-file":      false,
		"plan file":      false,
		"plan.md":        false,
	} {
		if got := isIdentifier(input); got != want {
			t.Errorf("isIdentifier(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWalkTemplateSinglePass(t *testing.T) {
	var sb strings.Builder
	err := walkTemplate("a {{x}} b {{y}}", func(name string) (string, error) {
		return "{{" + name + "}}!", nil
	}, func(s string) { sb.WriteString(s) })
	if err != nil {
		t.Fatalf("walkTemplate() error = %v", err)
	}
	if got, want := sb.String(), "a {{x}}! b {{y}}!"; got != want {
		t.Errorf("walkTemplate() = %q, want %q", got, want)
	}
}
