/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	"chainguard.dev/planbot/agent"
	"chainguard.dev/planbot/command"
	"chainguard.dev/planbot/jobstore"
	"chainguard.dev/planbot/promptbuilder"
	"chainguard.dev/planbot/statusreporter"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// result is the terminal state of a job and the comment announcing it.
type result struct {
	outcome jobstore.Outcome
	// reason is set only for failed outcomes.
	reason  string
	comment string
}

func (r result) failed() bool {
	return r.outcome == jobstore.OutcomeFailed || r.outcome == jobstore.OutcomeTimeout
}

func finished(outcome jobstore.Outcome, comment string) result {
	return result{outcome: outcome, comment: comment}
}

func setupFailure(job *jobstore.Job, reason string) result {
	return result{
		outcome: jobstore.OutcomeFailed,
		reason:  reason,
		comment: statusreporter.Failed(job, reason, ""),
	}
}

// process runs one claimed job to a terminal state. Nothing escapes it.
func (w *Worker) process(ctx context.Context, job *jobstore.Job) {
	tr := otel.Tracer("chainguard.dev/planbot/worker",
		oteltrace.WithInstrumentationVersion("1.0.0"))
	ctx, span := tr.Start(ctx, "planbot.job", oteltrace.WithAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.repo", job.Repo),
		attribute.Int("job.pr", job.PRNumber),
		attribute.String("job.command", string(job.Command)),
	))
	defer span.End()

	log := clog.FromContext(ctx).With("job", job.ID, "repo", job.Repo, "pr", job.PRNumber, "command", job.Command)
	ctx = clog.WithLogger(ctx, log)
	start := w.now()
	log.Info("Processing job")

	w.reporter.Report(ctx, job.Repo, job.PRNumber, statusreporter.Queued(job))

	res := w.safeExecute(ctx, job)

	var err error
	if res.failed() {
		err = w.store.Fail(ctx, job.ID, res.outcome, res.reason)
	} else {
		err = w.store.Finish(ctx, job.ID, res.outcome)
	}
	if err != nil {
		log.Errorf("Failed to record outcome %s: %v", res.outcome, err)
	}
	w.reporter.Report(ctx, job.Repo, job.PRNumber, res.comment)

	elapsed := w.now().Sub(start)
	jobsTotal.WithLabelValues(string(job.Command), string(res.outcome)).Inc()
	jobDuration.WithLabelValues(string(job.Command)).Observe(elapsed.Seconds())

	span.SetAttributes(attribute.String("job.outcome", string(res.outcome)))
	if res.failed() {
		span.SetStatus(codes.Error, res.reason)
		log.With("reason", res.reason).Warnf("Job ended with %s after %s", res.outcome, elapsed)
	} else {
		span.SetStatus(codes.Ok, "")
		log.Infof("Job ended with %s after %s", res.outcome, elapsed)
	}
}

// safeExecute converts a panic into an internal error.
func (w *Worker) safeExecute(ctx context.Context, job *jobstore.Job) (res result) {
	defer func() {
		if r := recover(); r != nil {
			clog.FromContext(ctx).Errorf("Panic while processing job: %v\n%s", r, debug.Stack())
			res = setupFailure(job, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return w.execute(ctx, job)
}

func (w *Worker) execute(ctx context.Context, job *jobstore.Job) result {
	switch job.Command {
	case command.Debug:
		return w.debug(job)
	case command.Action, command.Fix:
		return w.runAgent(ctx, job)
	default:
		return setupFailure(job, fmt.Sprintf("internal error: command %q cannot be queued", job.Command))
	}
}

func (w *Worker) debug(job *jobstore.Job) result {
	claimed := w.now()
	if job.StartedAt != nil {
		claimed = *job.StartedAt
	}
	return finished(jobstore.OutcomeDone, statusreporter.DebugDone(job, claimed.Sub(job.CreatedAt)))
}

func (w *Worker) runAgent(ctx context.Context, job *jobstore.Job) result {
	log := clog.FromContext(ctx)

	if job.Branch == "" {
		branch, err := w.platform.HeadBranch(ctx, job.Repo, job.PRNumber)
		if err != nil {
			return setupFailure(job, fmt.Sprintf("resolving pull request branch: %v", err))
		}
		if err := w.store.SetBranch(ctx, job.ID, branch); err != nil {
			return setupFailure(job, fmt.Sprintf("internal error: recording branch: %v", err))
		}
		job.Branch = branch
	}

	path, ok := w.repos.Path(job.Repo)
	if !ok {
		return setupFailure(job, fmt.Sprintf("repository %s has no local clone on this host", job.Repo))
	}

	release, err := w.locker.Acquire(ctx, job.Repo)
	if err != nil {
		return setupFailure(job, fmt.Sprintf("locking repository: %v", err))
	}
	defer release()

	ws, err := w.workspaces.Checkout(ctx, path, job.Branch)
	if err != nil {
		return setupFailure(job, fmt.Sprintf("checking out %s: %v", job.Branch, err))
	}

	plan, ok := ws.FindPlan(w.planPaths)
	if !ok {
		log.Info("No plan file on branch")
		return finished(jobstore.OutcomeWaiting, statusreporter.Waiting(job, w.planPaths))
	}

	jc := jobContext{
		Repository:  job.Repo,
		PullRequest: job.PRNumber,
		Branch:      job.Branch,
		PlanFile:    plan,
	}
	var (
		prompt string
		notice string
	)
	if job.Command == command.Fix {
		comments, err := w.platform.ReviewComments(ctx, job.Repo, job.PRNumber)
		if err != nil {
			return setupFailure(job, fmt.Sprintf("fetching review comments: %v", err))
		}
		prompt, err = promptbuilder.Render(fixPrompt, fixRequest{jobContext: jc, Comments: comments})
		if err != nil {
			return setupFailure(job, fmt.Sprintf("internal error: building prompt: %v", err))
		}
		notice = statusreporter.Fixing(job, len(comments))
	} else {
		prompt, err = promptbuilder.Render(actionPrompt, actionRequest{jobContext: jc})
		if err != nil {
			return setupFailure(job, fmt.Sprintf("internal error: building prompt: %v", err))
		}
		notice = statusreporter.Executing(job, plan)
	}
	if w.intermediate {
		w.reporter.Report(ctx, job.Repo, job.PRNumber, notice)
	}

	logFile, closeLog := w.openAgentLog(ctx, job)
	defer closeLog()

	out := w.agent.Run(ctx, agent.Request{
		Dir:     ws.Path(),
		Prompt:  prompt,
		Timeout: w.jobTimeout,
		Log:     logFile,
	})
	log.With("result", out.Result, "exit_code", out.ExitCode, "elapsed", out.Elapsed).Info("Agent finished")

	switch out.Result {
	case agent.ResultTimeout:
		return result{
			outcome: jobstore.OutcomeTimeout,
			reason:  agent.ReasonTimeout,
			comment: statusreporter.Timeout(job, w.jobTimeout, out.Output),
		}
	case agent.ResultFailure:
		reason := out.Reason
		if reason == "" {
			reason = agent.ReasonNonzeroExit
		}
		return result{
			outcome: jobstore.OutcomeFailed,
			reason:  reason,
			comment: statusreporter.Failed(job, reason, out.Output),
		}
	}

	changed, err := ws.CommitAll(ctx, commitMessage(job, plan))
	if err != nil {
		return setupFailure(job, fmt.Sprintf("committing changes: %v", err))
	}
	if changed {
		if err := ws.Push(ctx); err != nil {
			return setupFailure(job, fmt.Sprintf("pushing %s: %v", job.Branch, err))
		}
	}

	if job.Command == command.Fix {
		return finished(jobstore.OutcomeFixed, statusreporter.Fixed(job, ws.HeadSHA(), changed))
	}
	return finished(jobstore.OutcomeDone, statusreporter.Done(job, ws.HeadSHA(), changed))
}

func commitMessage(job *jobstore.Job, plan string) string {
	if job.Command == command.Fix {
		return fmt.Sprintf("Address review feedback on #%d\n\nplanbot job %d", job.PRNumber, job.ID)
	}
	return fmt.Sprintf("Execute %s for #%d\n\nplanbot job %d", plan, job.PRNumber, job.ID)
}

// openAgentLog returns the per-job log sink, or nil when logging to disk is
// off or the file cannot be created.
func (w *Worker) openAgentLog(ctx context.Context, job *jobstore.Job) (io.Writer, func()) {
	if w.logDir == "" {
		return nil, func() {}
	}
	log := clog.FromContext(ctx)
	if err := os.MkdirAll(w.logDir, 0o755); err != nil {
		log.Warnf("Not logging agent output: %v", err)
		return nil, func() {}
	}
	name := filepath.Join(w.logDir, fmt.Sprintf("job-%d-%s.log", job.ID, w.now().UTC().Format("20060102T150405Z")))
	f, err := os.Create(name)
	if err != nil {
		log.Warnf("Not logging agent output: %v", err)
		return nil, func() {}
	}
	log.Infof("Logging agent output to %s", name)
	return f, func() {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			log.Warnf("Closing agent log: %v", err)
		}
	}
}
