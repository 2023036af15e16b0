/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main is the planbot operator CLI. It reads the same job store as
// the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainguard.dev/planbot/jobstore"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
)

type storeConfig struct {
	Driver string `env:"STORE_DRIVER,default=sqlite3"`
	DSN    string `env:"STORE_DSN,default=planbot.db"`
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: planbotctl <command> [options]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  jobs   [--status S] [--repo R] [--limit N]   list jobs, newest first")
	fmt.Fprintln(os.Stderr, "  prune  --older-than D                        delete finished jobs older than D")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var cfg storeConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	var err error
	switch os.Args[1] {
	case "jobs":
		err = jobsCmd(ctx, cfg, os.Args[2:])
	case "prune":
		err = pruneCmd(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		clog.FatalContextf(ctx, "%s: %v", os.Args[1], err)
	}
}

func storeFlags(fs *flag.FlagSet, cfg *storeConfig) {
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "job store driver (sqlite3 or pgx)")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "job store DSN")
}

func jobsCmd(ctx context.Context, cfg storeConfig, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	storeFlags(fs, &cfg)
	status := fs.String("status", "", "only jobs in this status (pending, running, done, failed)")
	repo := fs.String("repo", "", "only jobs for this owner/name")
	limit := fs.Int("limit", 50, "maximum number of jobs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := jobstore.Filter{Status: jobstore.Status(*status), Repo: *repo, Limit: *limit}
	if err := validateFilter(f); err != nil {
		return err
	}

	store, err := jobstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.List(ctx, f)
	if err != nil {
		return err
	}
	return renderJobs(os.Stdout, jobs, time.Now())
}

func validateFilter(f jobstore.Filter) error {
	switch f.Status {
	case "", jobstore.StatusPending, jobstore.StatusRunning, jobstore.StatusDone, jobstore.StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", f.Status)
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", f.Limit)
	}
	return nil
}

func pruneCmd(ctx context.Context, cfg storeConfig, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	storeFlags(fs, &cfg)
	olderThan := fs.Duration("older-than", 0, "age of finished jobs to delete, e.g. 720h")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	store, err := jobstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		return err
	}
	clog.InfoContextf(ctx, "Pruned %d finished jobs older than %s", n, *olderThan)
	return nil
}
