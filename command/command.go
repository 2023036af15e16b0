/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package command extracts bot commands from comment and pull request text.
//
// A command is one of the bracketed tokens [action], [fix], [status] or
// [debug]. Comments must start with the token; pull request bodies may carry
// it anywhere. Matching is case-sensitive, and the bot's own status tokens
// ([done], [fixed], [failed], ...) are never read back as new commands.
package command

import (
	"strings"
	"unicode"
)

// Command is a recognized bot command.
type Command string

const (
	// None is returned when no command is present.
	None Command = ""

	Action Command = "action"
	Fix    Command = "fix"
	Status Command = "status"
	Debug  Command = "debug"
)

// tokens maps each literal token to its command.
var tokens = []struct {
	token string
	cmd   Command
}{
	{"[action]", Action},
	{"[fix]", Fix},
	{"[status]", Status},
	{"[debug]", Debug},
}

// Token returns the literal bracketed token for c, or "" for None.
func (c Command) Token() string {
	for _, t := range tokens {
		if t.cmd == c {
			return t.token
		}
	}
	return ""
}

// Enqueues reports whether the command creates a job. [status] is answered
// synchronously and never reaches the job store.
func (c Command) Enqueues() bool {
	switch c {
	case Action, Fix, Debug:
		return true
	default:
		return false
	}
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c.Token() != ""
}

// Parse returns the command at the start of the first line of text.
func Parse(text string) Command {
	first, _, _ := strings.Cut(text, "\n")
	return matchLine(first)
}

// ParseBody returns the earliest command token anywhere in text. It is
// used for pull request bodies, where the command can sit inside prose.
func ParseBody(text string) Command {
	found, at := None, -1
	for _, t := range tokens {
		if i := strings.Index(text, t.token); i >= 0 && (at < 0 || i < at) {
			found, at = t.cmd, i
		}
	}
	return found
}

func matchLine(line string) Command {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	for _, t := range tokens {
		if strings.HasPrefix(line, t.token) {
			return t.cmd
		}
	}
	return None
}
