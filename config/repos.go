/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"chainguard.dev/planbot/workspace"
	"github.com/chainguard-dev/clog"
	"gopkg.in/yaml.v3"
)

// Repos maps watched repositories to their local clones. Lookups ignore case
// since GitHub does.
type Repos struct {
	paths map[string]string
}

// NewRepos builds a set from owner/name to path pairs.
func NewRepos(m map[string]string) *Repos {
	r := &Repos{paths: make(map[string]string, len(m))}
	for repo, path := range m {
		r.paths[strings.ToLower(repo)] = path
	}
	return r
}

// Has reports whether repo is watched.
func (r *Repos) Has(repo string) bool {
	_, ok := r.paths[strings.ToLower(repo)]
	return ok
}

// Path returns the local clone of repo.
func (r *Repos) Path(repo string) (string, bool) {
	p, ok := r.paths[strings.ToLower(repo)]
	return p, ok
}

// Names returns the watched repositories in sorted order.
func (r *Repos) Names() []string {
	return slices.Sorted(maps.Keys(r.paths))
}

// Len is the number of watched repositories.
func (r *Repos) Len() int { return len(r.paths) }

type repoEntry struct {
	Repo string `yaml:"repo"`
	Path string `yaml:"path"`
}

// LoadRepos merges WATCH_DIR discoveries, WATCH_REPOS_FILE entries and
// WATCH_REPOS pairs, in that order, so explicit entries win.
func (c *Config) LoadRepos(ctx context.Context) (*Repos, error) {
	log := clog.FromContext(ctx)
	m := make(map[string]string)
	set := func(repo, path, source string) error {
		if err := checkRepoName(repo); err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		if path == "" {
			return fmt.Errorf("%s: repository %s has no path", source, repo)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("%s: resolving %s: %w", source, path, err)
		}
		if prev, ok := m[strings.ToLower(repo)]; ok && prev != abs {
			log.Infof("%s overrides %s for %s", abs, prev, repo)
		}
		m[strings.ToLower(repo)] = abs
		return nil
	}

	if c.WatchDir != "" {
		found, err := workspace.Discover(ctx, c.WatchDir, c.WatchMaxDepth)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", c.WatchDir, err)
		}
		for _, repo := range slices.Sorted(maps.Keys(found)) {
			if err := set(repo, found[repo], "WATCH_DIR"); err != nil {
				return nil, err
			}
		}
	}

	if c.WatchReposFile != "" {
		entries, err := readReposFile(c.WatchReposFile)
		if err != nil {
			return nil, err
		}
		base := filepath.Dir(c.WatchReposFile)
		for _, e := range entries {
			path := e.Path
			if path != "" && !filepath.IsAbs(path) {
				path = filepath.Join(base, path)
			}
			if err := set(e.Repo, path, "WATCH_REPOS_FILE"); err != nil {
				return nil, err
			}
		}
	}

	for _, pair := range c.WatchRepos {
		repo, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("WATCH_REPOS: %q is not owner/name=path", pair)
		}
		if err := set(strings.TrimSpace(repo), strings.TrimSpace(path), "WATCH_REPOS"); err != nil {
			return nil, err
		}
	}

	if len(m) == 0 {
		return nil, errors.New("no watched repositories configured")
	}
	return NewRepos(m), nil
}

func readReposFile(path string) ([]repoEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading watched repos file: %w", err)
	}
	var entries []repoEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entries, nil
}

func checkRepoName(repo string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return nil
}
