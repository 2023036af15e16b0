/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statusreporter

import (
	"context"

	"chainguard.dev/planbot/retry"
	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "planbot_status_comments_total",
		Help: "Status comments posted to pull requests, by result",
	},
	[]string{"result"},
)

// Poster creates a new comment on a pull request.
type Poster interface {
	CreateComment(ctx context.Context, repo string, pr int, body string) error
}

// Reporter posts status comments. Posting is best effort: the job store
// holds the authoritative state, so a comment that cannot be delivered is
// logged and dropped.
type Reporter struct {
	poster      Poster
	retry       retry.Config
	isRetryable func(error) bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithRetryConfig overrides the backoff used for transient failures.
func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Reporter) { r.retry = cfg }
}

// WithRetryable overrides which errors are retried.
func WithRetryable(fn func(error) bool) Option {
	return func(r *Reporter) { r.isRetryable = fn }
}

// New returns a Reporter posting through p.
func New(p Poster, opts ...Option) *Reporter {
	r := &Reporter{
		poster:      p,
		retry:       retry.DefaultConfig(),
		isRetryable: retry.IsTransientGitHubError,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report posts body as a new comment on repo#pr.
func (r *Reporter) Report(ctx context.Context, repo string, pr int, body string) {
	log := clog.FromContext(ctx).With("repo", repo, "pr", pr)

	_, err := retry.Do(ctx, r.retry, "create_comment", r.isRetryable, func() (struct{}, error) {
		return struct{}{}, r.poster.CreateComment(ctx, repo, pr, body)
	})
	if err != nil {
		commentsTotal.WithLabelValues("error").Inc()
		log.Errorf("Failed to post status comment: %v", err)
		return
	}
	commentsTotal.WithLabelValues("ok").Inc()
	log.Debugf("Posted status comment: %s", firstLine(body))
}
