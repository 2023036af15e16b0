/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// walkTemplate scans template once. Text between placeholders goes to emit
// (when non-nil) and each placeholder name goes to resolve, whose result is
// emitted as-is and never rescanned.
func walkTemplate(template string, resolve func(name string) (string, error), emit func(string)) error {
	if emit == nil {
		emit = func(string) {}
	}
	for {
		before, rest, found := strings.Cut(template, "{{")
		emit(before)
		if !found {
			return nil
		}
		inner, after, closed := strings.Cut(rest, "}}")
		if !closed {
			return errors.New("unclosed binding: missing '}}'")
		}
		name := strings.TrimSpace(inner)
		if !isIdentifier(name) {
			return fmt.Errorf("invalid binding identifier %q", name)
		}
		v, err := resolve(name)
		if err != nil {
			return err
		}
		emit(v)
		template = after
	}
}

// isIdentifier reports whether s starts with a letter and continues with
// letters, digits or underscores.
func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_'):
		default:
			return false
		}
	}
	return s != ""
}
