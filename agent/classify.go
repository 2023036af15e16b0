/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Failure reasons recorded on failed jobs.
const (
	ReasonTimeout        = "timeout"
	ReasonAuthentication = "authentication"
	ReasonExhaustedTurns = "exhausted turns"
	ReasonNoOutput       = "no output produced"
	ReasonNonzeroExit    = "nonzero exit"
)

// The agent reports most failures only as text, sometimes with a zero exit
// code. These patterns are the only place that text is interpreted.
var (
	authPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunauthori[sz]ed\b`),
		regexp.MustCompile(`(?i)\bforbidden\b`),
		regexp.MustCompile(`(?i)\binvalid[ _-]?api[ _-]?key\b`),
		regexp.MustCompile(`(?i)\bauthentication_error\b`),
		regexp.MustCompile(`(?i)\b(?:status(?: code)?|http/[0-9.]+|api error)[:=]?\s*40[13]\b`),
		regexp.MustCompile(`"status"\s*:\s*40[13]\b`),
	}

	exhaustedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\breached (?:the )?max(?:imum)?[ _-]?(?:number of )?turns\b`),
		regexp.MustCompile(`(?i)\bmax(?:imum)?[ _-]?turns (?:reached|exceeded)\b`),
		regexp.MustCompile(`\berror_max_turns\b`),
	}
)

// Classify maps a finished run to a result and reason. Output markers are
// checked before the exit code because the agent can exit 0 after failing.
func Classify(exitCode int, output string, timedOut bool) (Result, string) {
	switch {
	case timedOut:
		return ResultTimeout, ReasonTimeout
	case matchAny(authPatterns, output):
		return ResultFailure, ReasonAuthentication
	case matchAny(exhaustedPatterns, output):
		return ResultFailure, ReasonExhaustedTurns
	case strings.TrimSpace(output) == "":
		return ResultFailure, ReasonNoOutput
	case exitCode == 0:
		return ResultSuccess, ""
	default:
		return ResultFailure, fmt.Sprintf("%s: exit code %d", ReasonNonzeroExit, exitCode)
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
