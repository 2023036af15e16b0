/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agent runs the coding agent as a subprocess and classifies how
// the run ended.
//
// The agent is opaque: it is started as "<binary> <args...> <prompt>" in the
// pull request's working copy, and its combined output, exit code and
// elapsed time are the only signal it gives back.
package agent

import (
	"context"
	"io"
	"time"
)

// Result is the coarse outcome of an agent run.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultTimeout Result = "timeout"
)

// Request describes one agent run.
type Request struct {
	// Dir is the working directory of the agent.
	Dir string
	// Prompt is passed as the final argument.
	Prompt string
	// Timeout bounds the run. Zero means no limit.
	Timeout time.Duration
	// Log, if set, receives the combined output as it is produced.
	Log io.Writer
}

// Outcome is the classified result of a run.
type Outcome struct {
	Result   Result
	ExitCode int
	// Reason is empty on success.
	Reason  string
	Output  string
	Elapsed time.Duration
}

// Interface runs the agent. Implementations never return an error: every
// failure is folded into the Outcome.
type Interface interface {
	Run(ctx context.Context, req Request) Outcome
}
