/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"chainguard.dev/planbot/command"
	"chainguard.dev/planbot/jobstore"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/go-github/v84/github"
)

var cmpIgnoreTimes = cmpopts.IgnoreFields(jobstore.Job{}, "CreatedAt", "StartedAt", "FinishedAt")

type repoSet map[string]bool

func (s repoSet) Has(repo string) bool { return s[repo] }

type posted struct {
	Repo string
	PR   int
	Body string
}

type fakeReporter struct {
	mu     sync.Mutex
	posted []posted
}

func (f *fakeReporter) Report(_ context.Context, repo string, pr int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, posted{Repo: repo, PR: pr, Body: body})
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Wake() { c.n.Add(1) }

type fixture struct {
	server   *httptest.Server
	store    *jobstore.SQLStore
	reporter *fakeReporter
	notifier *countingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := jobstore.Open(context.Background(), jobstore.DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, reporter: &fakeReporter{}, notifier: &countingNotifier{}}
	r, err := NewReceiver(Options{
		Secret:      testSecret,
		BotUsername: "planbot",
		Repos:       repoSet{"octo/repo": true},
		Store:       store,
		Reporter:    f.reporter,
		Notifier:    f.notifier,
	})
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	f.server = httptest.NewServer(r.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) deliver(t *testing.T, eventType string, body []byte, signature string) (int, response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/webhook", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(github.EventTypeHeader, eventType)
	if signature != "" {
		req.Header.Set(HeaderSignature256, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /webhook: %v", err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp.StatusCode, out
}

func (f *fixture) jobs(t *testing.T) []*jobstore.Job {
	t.Helper()
	jobs, err := f.store.List(context.Background(), jobstore.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return jobs
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 1, commentID: 10, body: "[action]", author: "planbot"})

	for name, sig := range map[string]string{
		"missing":      "",
		"wrong secret": sign(body, []byte("nope")),
		"garbage":      "sha256=not-hex",
	} {
		t.Run(name, func(t *testing.T) {
			code, resp := f.deliver(t, EventIssueComment, body, sig)
			if code != http.StatusUnauthorized {
				t.Errorf("status: got %d, want %d", code, http.StatusUnauthorized)
			}
			if resp.Error != "invalid signature" {
				t.Errorf("error: got %q, want %q", resp.Error, "invalid signature")
			}
		})
	}
	if n := len(f.jobs(t)); n != 0 {
		t.Errorf("jobs stored: got %d, want 0", n)
	}
}

func TestWebhookQueuesCommand(t *testing.T) {
	f := newFixture(t)
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 3, commentID: 10, body: "  [action] go", author: "planbot"})

	code, resp := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	if code != http.StatusOK || resp.Status != "queued" {
		t.Fatalf("got %d %+v, want 200 queued", code, resp)
	}

	jobs := f.jobs(t)
	if len(jobs) != 1 {
		t.Fatalf("jobs: got %d, want 1", len(jobs))
	}
	got := jobs[0]
	want := &jobstore.Job{ID: resp.JobID, CommentID: 10, Repo: "octo/repo", PRNumber: 3, Command: command.Action, Status: jobstore.StatusPending}
	if diff := cmp.Diff(want, got, cmpIgnoreTimes); diff != "" {
		t.Errorf("job (-want +got):\n%s", diff)
	}
	if n := f.notifier.n.Load(); n != 1 {
		t.Errorf("wake-ups: got %d, want 1", n)
	}
}

func TestWebhookSenderCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 3, commentID: 11, body: "[fix]", author: "PlanBot"})

	code, resp := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	if code != http.StatusOK || resp.Status != "queued" {
		t.Fatalf("got %d %+v, want 200 queued", code, resp)
	}
	if n := len(f.jobs(t)); n != 1 {
		t.Errorf("jobs stored: got %d, want 1", n)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 3, commentID: 10, body: "[fix]", author: "planbot"})

	_, first := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	code, second := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	if code != http.StatusOK {
		t.Fatalf("duplicate status: got %d, want 200", code)
	}
	if second.Status != "duplicate" || second.JobID != first.JobID {
		t.Errorf("duplicate response: got %+v, want duplicate of job %d", second, first.JobID)
	}
	if n := len(f.jobs(t)); n != 1 {
		t.Errorf("jobs: got %d, want 1", n)
	}
	if n := f.notifier.n.Load(); n != 1 {
		t.Errorf("wake-ups: got %d, want 1", n)
	}
}

func TestWebhookStatusReply(t *testing.T) {
	f := newFixture(t)
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 8, commentID: 11, body: "[status]", author: "planbot"})

	code, _ := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if n := len(f.jobs(t)); n != 0 {
		t.Errorf("jobs: got %d, want 0", n)
	}
	if len(f.reporter.posted) != 1 {
		t.Fatalf("replies: got %d, want 1", len(f.reporter.posted))
	}
	reply := f.reporter.posted[0]
	if reply.Repo != "octo/repo" || reply.PR != 8 {
		t.Errorf("reply target: got %s#%d", reply.Repo, reply.PR)
	}
	if !strings.Contains(reply.Body, "0 pending") {
		t.Errorf("reply %q does not report an empty queue", reply.Body)
	}
}

func TestWebhookPullRequestOpened(t *testing.T) {
	f := newFixture(t)
	body := pullRequestPayload(t, "opened", "octo/repo", 4, 9001, "feature", "Implements the plan. Please run [action] once CI is green.", "planbot")

	code, resp := f.deliver(t, EventPullRequest, body, sign(body, testSecret))
	if code != http.StatusOK || resp.Status != "queued" {
		t.Fatalf("got %d %+v, want 200 queued", code, resp)
	}
	jobs := f.jobs(t)
	if len(jobs) != 1 {
		t.Fatalf("jobs: got %d, want 1", len(jobs))
	}
	if jobs[0].CommentID != -9001 || jobs[0].Branch != "feature" {
		t.Errorf("job: got comment id %d branch %q", jobs[0].CommentID, jobs[0].Branch)
	}
}

func TestWebhookIgnores(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		opts      *commentOpts
	}{{
		name:      "ping",
		eventType: "ping",
	}, {
		name:      "other sender",
		eventType: EventIssueComment,
		opts:      &commentOpts{repo: "octo/repo", pr: 1, commentID: 1, body: "[action]", author: "mallory"},
	}, {
		name:      "unwatched repo",
		eventType: EventIssueComment,
		opts:      &commentOpts{repo: "octo/other", pr: 1, commentID: 2, body: "[action]", author: "planbot"},
	}, {
		name:      "command not on first line",
		eventType: EventIssueComment,
		opts:      &commentOpts{repo: "octo/repo", pr: 1, commentID: 3, body: "see [action] above\n[action]", author: "planbot"},
	}, {
		name:      "bot status comment",
		eventType: EventIssueComment,
		opts:      &commentOpts{repo: "octo/repo", pr: 1, commentID: 4, body: "[fixed] Job #1 addressed the review.", author: "planbot"},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			body := []byte(`{"zen":"Design for failure."}`)
			if tt.opts != nil {
				body = commentPayload(t, *tt.opts)
			}
			code, resp := f.deliver(t, tt.eventType, body, sign(body, testSecret))
			if code != http.StatusOK || resp.Status != "ignored" {
				t.Errorf("got %d %+v, want 200 ignored", code, resp)
			}
			if n := len(f.jobs(t)); n != 0 {
				t.Errorf("jobs: got %d, want 0", n)
			}
		})
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"action": "created", "comment": `)

	code, _ := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	if code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", code, http.StatusBadRequest)
	}
}

func TestWebhookStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Close()
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 1, commentID: 1, body: "[action]", author: "planbot"})

	code, _ := f.deliver(t, EventIssueComment, body, sign(body, testSecret))
	if code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d", code, http.StatusInternalServerError)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	body := commentPayload(t, commentOpts{repo: "octo/repo", pr: 1, commentID: 1, body: "[debug]", author: "planbot"})
	f.deliver(t, EventIssueComment, body, sign(body, testSecret))

	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var got health
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(health{Status: "ok", Pending: 1}, got); diff != "" {
		t.Errorf("healthz (-want +got):\n%s", diff)
	}
}
