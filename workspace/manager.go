/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const remoteName = "origin"

// Manager checks out branches in local clones and pushes commits back to
// their origin.
type Manager struct {
	tokenSource oauth2.TokenSource
	authorName  string
	authorEmail string
}

// New constructs a Manager. The token source must allow fetching from and
// pushing to the watched repositories; commits are authored as name <email>.
func New(tokenSource oauth2.TokenSource, name, email string) (*Manager, error) {
	if tokenSource == nil {
		return nil, errors.New("token source cannot be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("author name cannot be empty")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = name + "@users.noreply.github.com"
	}
	return &Manager{tokenSource: tokenSource, authorName: name, authorEmail: email}, nil
}

// Workspace is a clone checked out at the head of a pull request branch.
type Workspace struct {
	manager *Manager
	path    string
	branch  string
	base    string
	head    string
}

// Checkout fetches branch from origin into the clone at path and checks it
// out, discarding any uncommitted changes in the working tree.
func (m *Manager) Checkout(ctx context.Context, path, branch string) (*Workspace, error) {
	switch {
	case path == "":
		return nil, errors.New("repository path cannot be empty")
	case branch == "":
		return nil, errors.New("branch cannot be empty")
	}
	log := clog.FromContext(ctx).With("path", path, "branch", branch)

	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	if err := resetWorktree(worktree); err != nil {
		return nil, err
	}

	auth, err := m.auth()
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}

	log.Infof("Fetching branch %s", branch)
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remoteName, branch))},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("fetching branch %s: %w", branch, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolving %s/%s: %w", remoteName, branch, err)
	}

	// Point the local branch at the fetched head so pushes fast-forward.
	local := plumbing.NewBranchReferenceName(branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(local, remoteRef.Hash())); err != nil {
		return nil, fmt.Errorf("setting branch reference: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", branch, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("getting worktree status: %w", err)
	}
	if !status.IsClean() {
		return nil, errors.New("worktree is not clean after checkout")
	}

	sha := remoteRef.Hash().String()
	log.Infof("Checked out %s at %s", branch, sha)
	return &Workspace{manager: m, path: path, branch: branch, base: sha, head: sha}, nil
}

func resetWorktree(worktree *git.Worktree) error {
	if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting worktree: %w", err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("cleaning worktree: %w", err)
	}
	return nil
}

func (m *Manager) auth() (*githttp.BasicAuth, error) {
	token, err := m.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// Path returns the working tree directory.
func (w *Workspace) Path() string { return w.path }

// Branch returns the checked-out branch.
func (w *Workspace) Branch() string { return w.branch }

// BaseSHA returns the commit the branch pointed at when it was checked out.
func (w *Workspace) BaseSHA() string { return w.base }

// HeadSHA returns the current head commit as of the last checkout or commit.
func (w *Workspace) HeadSHA() string { return w.head }

// FindPlan returns the first candidate, relative to the working tree, that
// is a regular file. Candidates that escape the working tree are skipped.
func (w *Workspace) FindPlan(candidates []string) (string, bool) {
	for _, c := range candidates {
		if !filepath.IsLocal(c) {
			continue
		}
		fi, err := os.Stat(filepath.Join(w.path, c))
		if err == nil && fi.Mode().IsRegular() {
			return filepath.ToSlash(c), true
		}
	}
	return "", false
}

// CommitAll stages every change in the working tree and commits it. The
// agent may also have committed on its own; changed reports whether the
// branch head moved since checkout either way.
func (w *Workspace) CommitAll(ctx context.Context, message string) (changed bool, err error) {
	if message == "" {
		return false, errors.New("commit message cannot be empty")
	}

	// Reopen: the agent may have written objects and refs behind our back.
	repo, err := git.PlainOpen(w.path)
	if err != nil {
		return false, fmt.Errorf("opening repository: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("getting worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("getting worktree status: %w", err)
	}
	if !status.IsClean() {
		if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return false, fmt.Errorf("staging changes: %w", err)
		}
		hash, err := worktree.Commit(message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  w.manager.authorName,
				Email: w.manager.authorEmail,
				When:  time.Now(),
			},
		})
		if err != nil {
			return false, fmt.Errorf("committing: %w", err)
		}
		clog.FromContext(ctx).Infof("Committed %s on %s", hash, w.branch)
	}

	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("resolving HEAD: %w", err)
	}
	if head.Name() != plumbing.NewBranchReferenceName(w.branch) {
		return false, fmt.Errorf("HEAD moved to %s, expected branch %s", head.Name().Short(), w.branch)
	}
	w.head = head.Hash().String()
	return w.head != w.base, nil
}

// Push pushes the branch to origin. The push is not forced, so it fails if
// someone else pushed to the branch while the job ran.
func (w *Workspace) Push(ctx context.Context) error {
	log := clog.FromContext(ctx)

	repo, err := git.PlainOpen(w.path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	auth, err := w.manager.auth()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(w.branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	log.Infof("Pushing %s", refSpec)

	if err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		Auth:       auth,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			log.Info("Branch already up to date")
			return nil
		}
		return fmt.Errorf("pushing %s: %w", w.branch, err)
	}
	return nil
}
