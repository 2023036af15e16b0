/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package repolock serializes work on a repository across planbot instances.
package repolock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/chainguard-dev/clog"
	"github.com/redis/go-redis/v9"
)

// Locker hands out exclusive leases on repositories.
type Locker interface {
	// Acquire blocks until the lease for repo is held or ctx is done. The
	// returned function releases it.
	Acquire(ctx context.Context, repo string) (release func(), err error)
}

// Noop is used when no Redis is configured. A single worker already owns
// its clones.
type Noop struct{}

// Acquire always succeeds immediately.
func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

const (
	defaultTTL   = time.Minute
	defaultRetry = 2 * time.Second
	keyPrefix    = "planbot:repo:"
)

// Redis holds leases in Redis and refreshes them while held.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

// Option configures a Redis locker.
type Option func(*Redis)

// WithTTL sets how long a lease survives without a refresh.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) { r.ttl = ttl }
}

// WithRetryInterval sets how often a contended lease is retried.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Redis) { r.retry = d }
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, opts ...Option) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	r := &Redis{
		client: client,
		locker: redislock.New(client),
		ttl:    defaultTTL,
		retry:  defaultRetry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func key(repo string) string {
	return keyPrefix + strings.ToLower(repo)
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, repo string) (func(), error) {
	log := clog.FromContext(ctx).With("repo", repo)

	var lock *redislock.Lock
	for {
		// Obtain gives up after one TTL when ctx has no deadline.
		l, err := r.locker.Obtain(ctx, key(repo), r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.retry),
		})
		if err == nil {
			lock = l
			break
		}
		if !errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("obtaining lock for %s: %w", repo, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("repository %s is locked by another instance: %w", repo, ctx.Err())
		}
		log.Info("Waiting for repository lock held by another instance")
	}
	log.Debug("Acquired repository lock")

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(refreshCtx, r.ttl, nil); err != nil {
					log.Warnf("Failed to refresh repository lock: %v", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.Warnf("Failed to release repository lock: %v", err)
			}
		})
	}, nil
}
