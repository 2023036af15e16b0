/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

//go:build unix

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultMaxOutput = 1 << 20
	defaultWaitDelay = 5 * time.Second
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planbot_agent_runs_total",
			Help: "Agent subprocess runs, by result and reason",
		},
		[]string{"result", "reason"},
	)
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planbot_agent_run_duration_seconds",
			Help:    "Wall time of agent subprocess runs",
			Buckets: []float64{1, 10, 30, 60, 300, 600, 1200, 1800, 3600},
		},
		[]string{"result"},
	)
)

// Invoker runs a configured agent binary.
type Invoker struct {
	binary    string
	args      []string
	env       []string
	maxOutput int
	waitDelay time.Duration
}

var _ Interface = (*Invoker)(nil)

// Option configures an Invoker.
type Option func(*Invoker) error

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(inv *Invoker) error {
		inv.env = append(inv.env, env...)
		return nil
	}
}

// WithMaxOutput bounds the captured output. Only the last n bytes are kept.
func WithMaxOutput(n int) Option {
	return func(inv *Invoker) error {
		if n <= 0 {
			return fmt.Errorf("max output must be positive, got %d", n)
		}
		inv.maxOutput = n
		return nil
	}
}

// WithWaitDelay bounds how long Run waits for output pipes to close after
// the agent exits or is killed.
func WithWaitDelay(d time.Duration) Option {
	return func(inv *Invoker) error {
		if d <= 0 {
			return fmt.Errorf("wait delay must be positive, got %v", d)
		}
		inv.waitDelay = d
		return nil
	}
}

// New returns an Invoker for binary, called with args before the prompt.
func New(binary string, args []string, opts ...Option) (*Invoker, error) {
	if binary == "" {
		return nil, errors.New("agent binary cannot be empty")
	}
	inv := &Invoker{
		binary:    binary,
		args:      slices.Clone(args),
		maxOutput: defaultMaxOutput,
		waitDelay: defaultWaitDelay,
	}
	for _, opt := range opts {
		if err := opt(inv); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// Run starts the agent in its own process group and waits for it. On
// timeout the whole group is killed; after a normal exit any descendants
// still in the group are killed too.
func (inv *Invoker) Run(ctx context.Context, req Request) Outcome {
	log := clog.FromContext(ctx).With("dir", req.Dir)
	start := time.Now()

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.binary, append(slices.Clone(inv.args), req.Prompt)...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), inv.env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = inv.waitDelay

	out := newTailBuffer(inv.maxOutput)
	var w io.Writer = out
	if req.Log != nil {
		w = io.MultiWriter(out, req.Log)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		o := Outcome{
			Result:   ResultFailure,
			ExitCode: -1,
			Reason:   fmt.Sprintf("failed to start: %v", err),
			Elapsed:  time.Since(start),
		}
		record(o)
		log.Errorf("Agent failed to start: %v", err)
		return o
	}
	pid := cmd.Process.Pid
	log.Infof("Agent started (pid %d, timeout %v)", pid, req.Timeout)

	waitErr := cmd.Wait()
	if err := killGroup(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Warnf("Killing agent process group %d: %v", pid, err)
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			log.Warnf("Waiting for agent: %v", waitErr)
		}
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	output := out.String()
	if d := out.Dropped(); d > 0 {
		log.Infof("Agent output truncated, kept the last %d bytes (%d dropped)", len(output), d)
	}
	result, reason := Classify(exitCode, output, timedOut)
	if result == ResultFailure && ctx.Err() != nil {
		reason = fmt.Sprintf("interrupted: %v", ctx.Err())
	}

	o := Outcome{
		Result:   result,
		ExitCode: exitCode,
		Reason:   reason,
		Output:   output,
		Elapsed:  time.Since(start),
	}
	record(o)
	log.With("result", string(o.Result)).
		With("exit_code", o.ExitCode).
		With("elapsed", o.Elapsed).
		Infof("Agent finished: %s", o.Reason)
	return o
}

func record(o Outcome) {
	reason := o.Reason
	for _, prefix := range []string{ReasonNonzeroExit, "failed to start", "interrupted"} {
		if strings.HasPrefix(reason, prefix) {
			reason = prefix
		}
	}
	runsTotal.WithLabelValues(string(o.Result), reason).Inc()
	runDuration.WithLabelValues(string(o.Result)).Observe(o.Elapsed.Seconds())
}

// killGroup sends SIGKILL to every process in the group led by pid.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
