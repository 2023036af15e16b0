/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package worker drains the job queue one job at a time: it checks out the
// pull request branch, runs the agent, pushes the result and reports each
// step on the pull request.
package worker

import (
	"context"
	"errors"
	"time"

	"chainguard.dev/planbot/agent"
	"chainguard.dev/planbot/jobstore"
	"chainguard.dev/planbot/platform"
	"chainguard.dev/planbot/repolock"
	"chainguard.dev/planbot/statusreporter"
	"chainguard.dev/planbot/workspace"
	"github.com/chainguard-dev/clog"
)

// RestartReason is recorded on jobs that were running when a previous
// process exited.
const RestartReason = "interrupted: worker restarted before the job finished"

// Store is the part of the job store the worker writes.
type Store interface {
	SetBranch(ctx context.Context, id int64, branch string) error
	Finish(ctx context.Context, id int64, outcome jobstore.Outcome) error
	Fail(ctx context.Context, id int64, outcome jobstore.Outcome, reason string) error
	FailRunning(ctx context.Context, reason string) ([]*jobstore.Job, error)
}

// Platform answers questions about pull requests.
type Platform interface {
	HeadBranch(ctx context.Context, repo string, pr int) (string, error)
	ReviewComments(ctx context.Context, repo string, pr int) ([]platform.ReviewComment, error)
}

// Reporter posts a comment on a pull request.
type Reporter interface {
	Report(ctx context.Context, repo string, pr int, body string)
}

// Repos resolves a watched repository to its local clone.
type Repos interface {
	Path(repo string) (string, bool)
}

// Options configures a Worker.
type Options struct {
	Store      Store
	Source     Source
	Platform   Platform
	Reporter   Reporter
	Repos      Repos
	Workspaces *workspace.Manager
	Agent      agent.Interface
	// Locker is optional.
	Locker repolock.Locker

	PlanPaths              []string
	JobTimeout             time.Duration
	PostIntermediateStatus bool
	// AgentLogDir, if set, receives one log file per agent run.
	AgentLogDir string
}

// Worker processes jobs sequentially.
type Worker struct {
	store      Store
	source     Source
	platform   Platform
	reporter   Reporter
	repos      Repos
	workspaces *workspace.Manager
	agent      agent.Interface
	locker     repolock.Locker

	planPaths    []string
	jobTimeout   time.Duration
	intermediate bool
	logDir       string

	now func() time.Time
}

// New validates opts and returns a Worker.
func New(opts Options) (*Worker, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("store cannot be nil")
	case opts.Source == nil:
		return nil, errors.New("source cannot be nil")
	case opts.Platform == nil:
		return nil, errors.New("platform cannot be nil")
	case opts.Reporter == nil:
		return nil, errors.New("reporter cannot be nil")
	case opts.Repos == nil:
		return nil, errors.New("repos cannot be nil")
	case opts.Workspaces == nil:
		return nil, errors.New("workspace manager cannot be nil")
	case opts.Agent == nil:
		return nil, errors.New("agent cannot be nil")
	case len(opts.PlanPaths) == 0:
		return nil, errors.New("at least one plan path is required")
	case opts.JobTimeout <= 0:
		return nil, errors.New("job timeout must be positive")
	}
	locker := opts.Locker
	if locker == nil {
		locker = repolock.Noop{}
	}
	return &Worker{
		store:        opts.Store,
		source:       opts.Source,
		platform:     opts.Platform,
		reporter:     opts.Reporter,
		repos:        opts.Repos,
		workspaces:   opts.Workspaces,
		agent:        opts.Agent,
		locker:       locker,
		planPaths:    opts.PlanPaths,
		jobTimeout:   opts.JobTimeout,
		intermediate: opts.PostIntermediateStatus,
		logDir:       opts.AgentLogDir,
		now:          time.Now,
	}, nil
}

// Run recovers jobs this instance orphaned in a previous process, then
// processes jobs until ctx is cancelled. A job in progress when ctx is
// cancelled runs to completion before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)

	if err := w.recover(ctx); err != nil {
		return err
	}

	log.Info("Worker started")
	for {
		job, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Worker stopping")
				return nil
			}
			log.Errorf("Failed to get next job: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) recover(ctx context.Context) error {
	jobs, err := w.store.FailRunning(ctx, RestartReason)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		clog.FromContext(ctx).With("job", job.ID, "repo", job.Repo, "pr", job.PRNumber).
			Warn("Failed job interrupted by a restart")
		recoveredTotal.Inc()
		jobsTotal.WithLabelValues(string(job.Command), string(jobstore.OutcomeFailed)).Inc()
		w.reporter.Report(ctx, job.Repo, job.PRNumber, statusreporter.Failed(job, RestartReason, ""))
	}
	return nil
}
