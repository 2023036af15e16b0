/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobstore

import (
	"time"

	"chainguard.dev/planbot/command"
)

// Status is the lifecycle state of a job. Transitions only move forward:
// pending -> running -> {done, failed}.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Outcome is the user-visible result recorded on a terminal job. It mirrors
// the token of the final status comment.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeFixed   Outcome = "fixed"
	OutcomeWaiting Outcome = "waiting"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// Job is one command invocation on one pull request.
type Job struct {
	ID         int64           `db:"id" json:"id"`
	CommentID  int64           `db:"comment_id" json:"comment_id"`
	Repo       string          `db:"repo" json:"repo"`
	PRNumber   int             `db:"pr_number" json:"pr_number"`
	Branch     string          `db:"branch" json:"branch"`
	Command    command.Command `db:"command" json:"command"`
	Status     Status          `db:"status" json:"status"`
	Owner      string          `db:"owner" json:"owner,omitempty"`
	Outcome    *Outcome        `db:"outcome" json:"outcome,omitempty"`
	Error      *string         `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	StartedAt  *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// NewJob carries the fields the receiver supplies on insert.
type NewJob struct {
	CommentID int64
	Repo      string
	PRNumber  int
	Branch    string
	Command   command.Command
}

// ErrorMessage returns the failure reason, or "" when none is recorded.
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// OutcomeValue returns the recorded outcome, or "" while the job is live.
func (j *Job) OutcomeValue() Outcome {
	if j.Outcome == nil {
		return ""
	}
	return *j.Outcome
}
