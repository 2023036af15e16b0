/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var (
	// ErrNotFound is returned when no job matches the lookup.
	ErrNotFound = errors.New("job not found")

	// ErrNoPendingJobs is returned by ClaimNext when the queue is empty.
	ErrNoPendingJobs = errors.New("no pending jobs")

	// ErrInvalidTransition is returned when a status update would move a job
	// backwards or out of a state it is not in.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

const jobColumns = `id, comment_id, repo, pr_number, branch, command, status, owner, outcome, error, created_at, started_at, finished_at`

// SQLStore persists jobs in SQLite or Postgres. Every mutation is a single
// statement guarded by the current status, so the receiver and the worker can
// share a store without further locking.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	owner  string
	now    func() time.Time
}

// Option configures an SQLStore.
type Option func(*SQLStore)

// WithOwner names the instance that claims jobs through this store. Claimed
// jobs record it, and FailRunning only touches jobs claimed under the same
// name, so instances sharing a database never fail each other's work.
func WithOwner(owner string) Option {
	return func(s *SQLStore) { s.owner = owner }
}

// Depth is the number of live jobs for a repository.
type Depth struct {
	Pending int
	Running int
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Repo   string
	Limit  int
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "planbot.db"
		}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres DSN cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection serializes the
		// receiver and the worker instead of surfacing SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLStore{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Insert adds a pending job unless one with the same comment id already
// exists. It returns the stored job and whether this call created it.
func (s *SQLStore) Insert(ctx context.Context, nj NewJob) (*Job, bool, error) {
	switch {
	case nj.Repo == "":
		return nil, false, errors.New("repo cannot be empty")
	case nj.PRNumber <= 0:
		return nil, false, fmt.Errorf("invalid pull request number %d", nj.PRNumber)
	case !nj.Command.Enqueues():
		return nil, false, fmt.Errorf("command %q cannot be queued", nj.Command)
	}

	var id int64
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`
		INSERT INTO jobs (comment_id, repo, pr_number, branch, command, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (comment_id) DO NOTHING
		RETURNING id`),
		nj.CommentID, nj.Repo, nj.PRNumber, nj.Branch, nj.Command, StatusPending, s.now())
	if err == nil {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return job, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting job for comment %d: %w", nj.CommentID, err)
	}

	existing, err := s.GetByCommentID(ctx, nj.CommentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ClaimNext moves the oldest pending job to running under this store's
// owner and returns it. Once claimed, the job no longer matches any pending
// scan. ErrNoPendingJobs is returned when the queue is empty.
func (s *SQLStore) ClaimNext(ctx context.Context) (*Job, error) {
	lock := ""
	if s.driver == DriverPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	var id int64
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`
		UPDATE jobs SET status = ?, owner = ?, started_at = ?
		WHERE id = (SELECT id FROM jobs WHERE status = ? ORDER BY id LIMIT 1`+lock+`)
		AND status = ?
		RETURNING id`),
		StatusRunning, s.owner, s.now(), StatusPending, StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoPendingJobs
		}
		return nil, fmt.Errorf("claiming next job: %w", err)
	}
	return s.Get(ctx, id)
}

// SetBranch records the resolved head branch of a running job.
func (s *SQLStore) SetBranch(ctx context.Context, id int64, branch string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE jobs SET branch = ? WHERE id = ? AND status = ?`),
		branch, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("setting branch of job %d: %w", id, err)
	}
	return s.checkTransition(ctx, id, res)
}

// Finish moves a running job to done with a success outcome.
func (s *SQLStore) Finish(ctx context.Context, id int64, outcome Outcome) error {
	switch outcome {
	case OutcomeDone, OutcomeFixed, OutcomeWaiting:
	default:
		return fmt.Errorf("%w: %q is not a success outcome", ErrInvalidTransition, outcome)
	}
	return s.finish(ctx, id, StatusDone, outcome, nil)
}

// Fail moves a running job to failed. The reason is stored verbatim; an
// empty reason is replaced so that failed rows always explain themselves.
func (s *SQLStore) Fail(ctx context.Context, id int64, outcome Outcome, reason string) error {
	switch outcome {
	case OutcomeFailed, OutcomeTimeout:
	default:
		return fmt.Errorf("%w: %q is not a failure outcome", ErrInvalidTransition, outcome)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "internal error: no failure reason recorded"
	}
	return s.finish(ctx, id, StatusFailed, outcome, &reason)
}

func (s *SQLStore) finish(ctx context.Context, id int64, status Status, outcome Outcome, reason *string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE jobs SET status = ?, outcome = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?`),
		status, outcome, reason, s.now(), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("moving job %d to %s: %w", id, status, err)
	}
	return s.checkTransition(ctx, id, res)
}

// checkTransition turns a zero-row guarded update into ErrNotFound or
// ErrInvalidTransition.
func (s *SQLStore) checkTransition(ctx context.Context, id int64, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, id, job.Status)
}

// Get returns the job with the given id.
func (s *SQLStore) Get(ctx context.Context, id int64) (*Job, error) {
	return s.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
}

// GetByCommentID returns the job created for the given comment id.
func (s *SQLStore) GetByCommentID(ctx context.Context, commentID int64) (*Job, error) {
	return s.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE comment_id = ?`, commentID)
}

func (s *SQLStore) getOne(ctx context.Context, query string, arg any) (*Job, error) {
	var job Job
	if err := s.db.GetContext(ctx, &job, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return &job, nil
}

// QueueDepth counts pending and running jobs for repo.
func (s *SQLStore) QueueDepth(ctx context.Context, repo string) (Depth, error) {
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT status, COUNT(*) AS n FROM jobs
		WHERE repo = ? AND status IN (?, ?)
		GROUP BY status`),
		repo, StatusPending, StatusRunning); err != nil {
		return Depth{}, fmt.Errorf("counting jobs for %s: %w", repo, err)
	}

	var d Depth
	for _, r := range rows {
		switch r.Status {
		case StatusPending:
			d.Pending = r.Count
		case StatusRunning:
			d.Running = r.Count
		}
	}
	return d, nil
}

// CountPending counts pending jobs across all repositories.
func (s *SQLStore) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM jobs WHERE status = ?`), StatusPending); err != nil {
		return 0, fmt.Errorf("counting pending jobs: %w", err)
	}
	return n, nil
}

// List returns jobs matching f, newest first.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Repo != "" {
		where = append(where, "repo = ?")
		args = append(args, f.Repo)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	var jobs []*Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// FailRunning fails every job this owner left running, typically because
// the process exited mid-job. Jobs claimed by other owners are left alone.
// Status never moves backwards, so such jobs cannot be retried in place; the
// failed rows are returned so they can be reported.
func (s *SQLStore) FailRunning(ctx context.Context, reason string) ([]*Job, error) {
	var running []*Job
	if err := s.db.SelectContext(ctx, &running, s.db.Rebind(`
		SELECT `+jobColumns+` FROM jobs WHERE status = ? AND owner = ? ORDER BY id`),
		StatusRunning, s.owner); err != nil {
		return nil, fmt.Errorf("listing running jobs of %q: %w", s.owner, err)
	}

	failed := make([]*Job, 0, len(running))
	for _, job := range running {
		if err := s.Fail(ctx, job.ID, OutcomeFailed, reason); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return failed, err
		}
		clog.FromContext(ctx).With("job", job.ID).Warnf("Failed interrupted job: %s", reason)
		updated, err := s.Get(ctx, job.ID)
		if err != nil {
			return failed, err
		}
		failed = append(failed, updated)
	}
	return failed, nil
}

// Prune deletes terminal jobs that finished before cutoff and returns how
// many rows were removed. Live jobs are never pruned.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM jobs WHERE status IN (?, ?) AND finished_at < ?`),
		StatusDone, StatusFailed, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	return res.RowsAffected()
}
