/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chainguard.dev/planbot/command"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insert(t *testing.T, s *SQLStore, commentID int64, repo string, pr int, cmd command.Command) *Job {
	t.Helper()
	job, created, err := s.Insert(context.Background(), NewJob{
		CommentID: commentID,
		Repo:      repo,
		PRNumber:  pr,
		Branch:    "feature",
		Command:   cmd,
	})
	if err != nil {
		t.Fatalf("Insert(%d): %v", commentID, err)
	}
	if !created {
		t.Fatalf("Insert(%d): expected a new row", commentID)
	}
	return job
}

// checkTimestamps asserts started_at is set iff the job left pending, and
// finished_at is set iff it is terminal.
func checkTimestamps(t *testing.T, job *Job) {
	t.Helper()
	if got, want := job.StartedAt != nil, job.Status != StatusPending; got != want {
		t.Errorf("job %d (%s): started_at set = %v, want %v", job.ID, job.Status, got, want)
	}
	if got, want := job.FinishedAt != nil, job.Status.Terminal(); got != want {
		t.Errorf("job %d (%s): finished_at set = %v, want %v", job.ID, job.Status, got, want)
	}
	if got, want := job.Error != nil, job.Status == StatusFailed; got != want {
		t.Errorf("job %d (%s): error set = %v, want %v", job.ID, job.Status, got, want)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := insert(t, s, 42, "octo/repo", 7, command.Action)
	if first.Status != StatusPending {
		t.Fatalf("status: got %s, want %s", first.Status, StatusPending)
	}
	checkTimestamps(t, first)

	second, created, err := s.Insert(ctx, NewJob{CommentID: 42, Repo: "octo/repo", PRNumber: 7, Command: command.Fix})
	if err != nil {
		t.Fatalf("duplicate Insert: %v", err)
	}
	if created {
		t.Fatal("duplicate Insert reported a new row")
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("duplicate Insert returned a different job (-first +second):\n%s", diff)
	}

	jobs, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("row count: got %d, want 1", len(jobs))
	}
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for name, nj := range map[string]NewJob{
		"empty repo":     {CommentID: 1, PRNumber: 1, Command: command.Action},
		"zero pr":        {CommentID: 2, Repo: "o/r", Command: command.Action},
		"status command": {CommentID: 3, Repo: "o/r", PRNumber: 1, Command: command.Status},
		"no command":     {CommentID: 4, Repo: "o/r", PRNumber: 1},
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.Insert(ctx, nj); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestConcurrentDuplicateInserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Insert(ctx, NewJob{CommentID: 99, Repo: "o/r", PRNumber: 1, Command: command.Fix})
			if err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created: got %d, want 1", created)
	}
}

func TestClaimNextIsFIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	j1 := insert(t, s, 1, "octo/repo", 3, command.Action)
	j2 := insert(t, s, 2, "octo/repo", 3, command.Fix)
	j3 := insert(t, s, 3, "other/repo", 1, command.Debug)

	for _, want := range []*Job{j1, j2, j3} {
		got, err := s.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if got.ID != want.ID {
			t.Fatalf("claimed job %d, want %d", got.ID, want.ID)
		}
		if got.Status != StatusRunning {
			t.Errorf("status: got %s, want %s", got.Status, StatusRunning)
		}
		checkTimestamps(t, got)
	}

	if _, err := s.ClaimNext(ctx); !errors.Is(err, ErrNoPendingJobs) {
		t.Fatalf("ClaimNext on empty queue: got %v, want ErrNoPendingJobs", err)
	}
}

func TestClaimedJobIsInvisibleToOtherClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insert(t, s, 1, "octo/repo", 3, command.Action)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []int64
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.ClaimNext(ctx)
			if errors.Is(err, ErrNoPendingJobs) {
				return
			}
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			mu.Lock()
			claimed = append(claimed, job.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 1 {
		t.Fatalf("job claimed %d times, want once", len(claimed))
	}
}

func TestTransitionsOnlyMoveForward(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job := insert(t, s, 1, "octo/repo", 3, command.Action)

	// Pending jobs cannot finish or fail directly.
	require.ErrorIs(t, s.Finish(ctx, job.ID, OutcomeDone), ErrInvalidTransition)
	require.ErrorIs(t, s.Fail(ctx, job.ID, OutcomeFailed, "boom"), ErrInvalidTransition)

	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	require.NoError(t, s.SetBranch(ctx, job.ID, "resolved"))
	require.NoError(t, s.Finish(ctx, job.ID, OutcomeWaiting))

	done, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, done.Status)
	require.Equal(t, OutcomeWaiting, done.OutcomeValue())
	require.Equal(t, "resolved", done.Branch)
	checkTimestamps(t, done)

	// Terminal jobs stay terminal.
	require.ErrorIs(t, s.Finish(ctx, job.ID, OutcomeDone), ErrInvalidTransition)
	require.ErrorIs(t, s.Fail(ctx, job.ID, OutcomeFailed, "late"), ErrInvalidTransition)
	require.ErrorIs(t, s.SetBranch(ctx, job.ID, "other"), ErrInvalidTransition)

	// A finished job is never claimed again.
	_, err = s.ClaimNext(ctx)
	require.ErrorIs(t, err, ErrNoPendingJobs)

	require.ErrorIs(t, s.Finish(ctx, 12345, OutcomeDone), ErrNotFound)
}

func TestFailRecordsReason(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insert(t, s, 1, "octo/repo", 3, command.Fix)
	insert(t, s, 2, "octo/repo", 3, command.Fix)

	tests := []struct {
		name    string
		outcome Outcome
		reason  string
		want    string
	}{
		{name: "timeout", outcome: OutcomeTimeout, reason: "timeout", want: "timeout"},
		{name: "empty reason", outcome: OutcomeFailed, reason: "  ", want: "internal error: no failure reason recorded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := s.ClaimNext(ctx)
			require.NoError(t, err)
			require.NoError(t, s.Fail(ctx, job.ID, tt.outcome, tt.reason))

			got, err := s.Get(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, StatusFailed, got.Status)
			require.Equal(t, tt.outcome, got.OutcomeValue())
			require.Equal(t, tt.want, got.ErrorMessage())
			checkTimestamps(t, got)
		})
	}
}

func TestOutcomeMustMatchStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insert(t, s, 1, "octo/repo", 3, command.Action)
	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, s.Finish(ctx, job.ID, OutcomeTimeout), ErrInvalidTransition)
	require.ErrorIs(t, s.Fail(ctx, job.ID, OutcomeDone, "x"), ErrInvalidTransition)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
}

func TestQueueDepth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.QueueDepth(ctx, "octo/repo")
	require.NoError(t, err)
	require.Equal(t, Depth{}, d)

	insert(t, s, 1, "octo/repo", 1, command.Action)
	insert(t, s, 2, "octo/repo", 2, command.Action)
	insert(t, s, 3, "octo/repo", 2, command.Fix)
	insert(t, s, 4, "other/repo", 1, command.Fix)

	if _, err := s.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	d, err = s.QueueDepth(ctx, "octo/repo")
	require.NoError(t, err)
	if diff := cmp.Diff(Depth{Pending: 2, Running: 1}, d); diff != "" {
		t.Errorf("QueueDepth (-want +got):\n%s", diff)
	}

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insert(t, s, 1, "octo/repo", 1, command.Action)
	insert(t, s, 2, "octo/repo", 2, command.Fix)
	insert(t, s, 3, "other/repo", 1, command.Fix)
	if _, err := s.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	ids := func(jobs []*Job) []int64 {
		out := make([]int64, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, j.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{name: "all newest first", filter: Filter{}, want: []int64{3, 2, 1}},
		{name: "by repo", filter: Filter{Repo: "octo/repo"}, want: []int64{2, 1}},
		{name: "by status", filter: Filter{Status: StatusRunning}, want: []int64{1}},
		{name: "limit", filter: Filter{Limit: 1}, want: []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, ids(jobs)); diff != "" {
				t.Errorf("List (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailRunning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insert(t, s, 1, "octo/repo", 1, command.Action)
	insert(t, s, 2, "octo/repo", 1, command.Action)
	running, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	failed, err := s.FailRunning(ctx, "interrupted")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, running.ID, failed[0].ID)
	require.Equal(t, StatusFailed, failed[0].Status)
	require.Equal(t, "interrupted", failed[0].ErrorMessage())

	// The pending job is untouched and still claimable.
	next, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), next.ID)
}

func TestFailRunningLeavesOtherOwners(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	open := func(owner string) *SQLStore {
		s, err := Open(ctx, DriverSQLite, path, WithOwner(owner))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	a, b := open("planbot-0"), open("planbot-1")

	insert(t, a, 1, "octo/repo", 1, command.Action)
	claimed, err := a.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, "planbot-0", claimed.Owner)

	// A peer starting up must not fail work it did not claim.
	failed, err := b.FailRunning(ctx, "interrupted")
	require.NoError(t, err)
	require.Empty(t, failed)

	got, err := b.Get(ctx, claimed.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)

	require.NoError(t, a.Finish(ctx, claimed.ID, OutcomeDone))

	// The owner recovers its own interrupted job after a restart.
	insert(t, a, 2, "octo/repo", 1, command.Fix)
	second, err := a.ClaimNext(ctx)
	require.NoError(t, err)
	restarted := open("planbot-0")
	failed, err = restarted.FailRunning(ctx, "interrupted")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, second.ID, failed[0].ID)
	require.Equal(t, StatusFailed, failed[0].Status)
}

func TestOpenAddsOwnerColumn(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	legacy, err := sqlx.Connect(DriverSQLite, path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		comment_id INTEGER NOT NULL,
		repo TEXT NOT NULL,
		pr_number INTEGER NOT NULL CHECK (pr_number > 0),
		branch TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		outcome TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO jobs (comment_id, repo, pr_number, command, status, created_at, started_at)
		VALUES (7, 'octo/repo', 3, 'action', 'running', ?, ?)`, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	// Rows from before owners were recorded belong to the unnamed owner.
	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	failed, err := s.FailRunning(ctx, "interrupted")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, int64(7), failed[0].CommentID)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	insert(t, s, 1, "octo/repo", 1, command.Action)
	insert(t, s, 2, "octo/repo", 1, command.Action)
	insert(t, s, 3, "octo/repo", 1, command.Action)

	old, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, old.ID, OutcomeDone))

	clock = clock.Add(48 * time.Hour)
	recent, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, recent.ID, OutcomeFailed, "boom"))

	n, err := s.Prune(ctx, clock.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// The recent failure and the pending job survive.
	jobs, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}
