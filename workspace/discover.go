/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Discover walks dir up to maxDepth levels and returns the clones it finds,
// keyed by the owner/name of their origin remote. Directories inside a
// clone are not searched.
func Discover(ctx context.Context, dir string, maxDepth int) (map[string]string, error) {
	log := clog.FromContext(ctx)
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	found := make(map[string]string)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warnf("Skipping %s: %v", path, err)
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if depth(root, path) > maxDepth {
			return fs.SkipDir
		}
		if _, err := os.Stat(filepath.Join(path, git.GitDirName)); err != nil {
			return nil
		}

		repo, err := originRepo(path)
		if err != nil {
			log.Warnf("Ignoring clone at %s: %v", path, err)
			return fs.SkipDir
		}
		if prev, dup := found[repo]; dup {
			log.Warnf("Ignoring clone of %s at %s, already using %s", repo, path, prev)
			return fs.SkipDir
		}
		found[repo] = path
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return found, nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func originRepo(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", err
	}
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return "", fmt.Errorf("reading %s remote: %w", remoteName, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%s remote has no URL", remoteName)
	}
	return RepoFromURL(urls[0])
}

// RepoFromURL extracts owner/name from a GitHub remote URL in https, ssh
// or scp-like form. Local paths are rejected.
func RepoFromURL(raw string) (string, error) {
	ep, err := transport.NewEndpoint(raw)
	if err != nil {
		return "", fmt.Errorf("parsing remote URL %q: %w", raw, err)
	}
	if ep.Protocol == "file" {
		return "", fmt.Errorf("remote %q is a local path", raw)
	}

	p := strings.TrimSuffix(strings.Trim(ep.Path, "/"), ".git")
	owner, name, ok := strings.Cut(p, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", errors.New("remote URL does not name an owner/repository: " + raw)
	}
	return owner + "/" + name, nil
}
