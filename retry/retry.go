/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry retries GitHub API calls that fail transiently.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config bounds how often and how long a call is retried.
type Config struct {
	// MaxRetries is the number of attempts after the first; 0 disables retries.
	MaxRetries int
	// BaseBackoff doubles on every attempt up to MaxBackoff.
	BaseBackoff time.Duration
	// MaxBackoff caps every wait, including one requested by GitHub.
	MaxBackoff time.Duration
	// MaxJitter is added at random to computed backoffs.
	MaxJitter time.Duration
}

// Validate rejects negative settings.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	case c.BaseBackoff < 0, c.MaxBackoff < 0, c.MaxJitter < 0:
		return fmt.Errorf("retry durations cannot be negative: base=%v max=%v jitter=%v", c.BaseBackoff, c.MaxBackoff, c.MaxJitter)
	}
	return nil
}

// DefaultConfig is used for status comments, which are posted from the
// worker loop and must not hold it for long.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  20 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Do calls fn until it succeeds, fails with an error isRetryable rejects, or
// runs out of retries. When GitHub says how long to wait (Retry-After or a
// rate limit reset) that wait is used, capped at MaxBackoff; otherwise the
// wait grows exponentially with jitter.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	log := clog.FromContext(ctx).With("operation", operation)

	for attempt := 0; ; attempt++ {
		result, err := fn()
		switch {
		case err == nil:
			return result, nil
		case !isRetryable(err):
			return result, err
		case attempt >= cfg.MaxRetries:
			return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, err)
		}

		wait := cfg.delay(attempt, err)
		log.With("attempt", attempt+1, "max_retries", cfg.MaxRetries, "wait", wait).
			Warnf("Transient error, retrying: %v", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c Config) delay(attempt int, err error) time.Duration {
	if wait, ok := requestedWait(err, time.Now()); ok {
		return min(wait, c.MaxBackoff)
	}
	return min(c.BaseBackoff<<attempt, c.MaxBackoff) + c.jitter()
}

func (c Config) jitter() time.Duration {
	if c.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
