/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the planbot server: the webhook receiver, the job
// worker and the metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainguard.dev/planbot/agent"
	"chainguard.dev/planbot/config"
	"chainguard.dev/planbot/jobstore"
	"chainguard.dev/planbot/platform"
	"chainguard.dev/planbot/repolock"
	"chainguard.dev/planbot/statusreporter"
	"chainguard.dev/planbot/webhook"
	"chainguard.dev/planbot/worker"
	"chainguard.dev/planbot/workspace"
	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer setupTracer(ctx)()

	cfg, err := config.Load(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "loading config: %v", err)
	}

	repos, err := cfg.LoadRepos(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "loading watched repositories: %v", err)
	}
	clog.InfoContextf(ctx, "Watching %d repositories: %v", repos.Len(), repos.Names())

	store, err := jobstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, jobstore.WithOwner(cfg.InstanceID))
	if err != nil {
		clog.FatalContextf(ctx, "opening job store: %v", err)
	}
	defer store.Close()

	gh, err := platform.New(ctx, cfg.Platform())
	if err != nil {
		clog.FatalContextf(ctx, "creating GitHub client: %v", err)
	}
	reporter := statusreporter.New(gh)

	workspaces, err := workspace.New(gh.TokenSource(), cfg.GitAuthorName, cfg.GitAuthorEmail)
	if err != nil {
		clog.FatalContextf(ctx, "creating workspace manager: %v", err)
	}

	invoker, err := agent.New(cfg.AgentBinary, cfg.AgentArgs)
	if err != nil {
		clog.FatalContextf(ctx, "creating agent invoker: %v", err)
	}

	var locker repolock.Locker = repolock.Noop{}
	if cfg.RedisAddr != "" {
		rl, err := repolock.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			clog.FatalContextf(ctx, "creating repository lock: %v", err)
		}
		defer rl.Close()
		locker = rl
		clog.InfoContextf(ctx, "Using Redis repository lock at %s", cfg.RedisAddr)
	}

	source := worker.NewPollingSource(store, cfg.PollInterval)

	receiver, err := webhook.NewReceiver(webhook.Options{
		Secret:      []byte(cfg.WebhookSecret),
		BotUsername: cfg.BotUsername,
		Repos:       repos,
		Store:       store,
		Reporter:    reporter,
		Notifier:    source,
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating webhook receiver: %v", err)
	}

	w, err := worker.New(worker.Options{
		Store:                  store,
		Source:                 source,
		Platform:               gh,
		Reporter:               reporter,
		Repos:                  repos,
		Workspaces:             workspaces,
		Agent:                  invoker,
		Locker:                 locker,
		PlanPaths:              cfg.PlanPaths,
		JobTimeout:             cfg.JobTimeout,
		PostIntermediateStatus: cfg.PostIntermediateStatus,
		AgentLogDir:            cfg.AgentLogDir,
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating worker: %v", err)
	}

	e := receiver.Handler()
	metrics := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		clog.InfoContextf(ctx, "Listening for webhooks on %s", cfg.Addr())
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		clog.InfoContextf(ctx, "Serving metrics on %s", metrics.Addr)
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return w.Run(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		clog.InfoContextf(ctx, "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return errors.Join(e.Shutdown(shutdownCtx), metrics.Shutdown(shutdownCtx))
	})

	if err := eg.Wait(); err != nil {
		clog.FatalContextf(ctx, "planbot exited: %v", err)
	}
	clog.InfoContextf(ctx, "planbot stopped")
}
