/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package worker

import (
	"context"
	"errors"
	"time"

	"chainguard.dev/planbot/jobstore"
	"github.com/chainguard-dev/clog"
)

// Source hands the worker its next job, blocking until one is available.
type Source interface {
	Next(ctx context.Context) (*jobstore.Job, error)
}

// Claimer atomically moves the oldest pending job to running.
type Claimer interface {
	ClaimNext(ctx context.Context) (*jobstore.Job, error)
}

// PollingSource claims jobs from the store, sleeping between empty polls
// until the interval passes or Wake is called.
type PollingSource struct {
	store    Claimer
	interval time.Duration
	wake     chan struct{}
}

// NewPollingSource returns a source polling store every interval.
func NewPollingSource(store Claimer, interval time.Duration) *PollingSource {
	return &PollingSource{
		store:    store,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Wake cuts the current wait short. It never blocks.
func (s *PollingSource) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next implements Source. Store errors are logged and retried; only ctx
// ends the wait.
func (s *PollingSource) Next(ctx context.Context) (*jobstore.Job, error) {
	for {
		job, err := s.store.ClaimNext(ctx)
		switch {
		case err == nil:
			return job, nil
		case errors.Is(err, jobstore.ErrNoPendingJobs):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			clog.FromContext(ctx).Errorf("Failed to claim next job: %v", err)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
