/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statusreporter

import (
	"fmt"
	"strings"
	"time"

	"chainguard.dev/planbot/jobstore"
)

// Tokens that prefix every status comment. Scripts parse these, so they
// must not change.
const (
	TokenQueued    = "[queued]"
	TokenExecuting = "[executing]"
	TokenFixing    = "[fixing]"
	TokenDone      = "[done]"
	TokenFixed     = "[fixed]"
	TokenFailed    = "[failed]"
	TokenTimeout   = "[timeout]"
	TokenWaiting   = "[waiting]"
)

// maxTailLines bounds the agent output quoted in a failure comment.
const maxTailLines = 40

// Queued announces that a job was claimed.
func Queued(job *jobstore.Job) string {
	return fmt.Sprintf("%s %s job #%d picked up.", TokenQueued, job.Command.Token(), job.ID)
}

// Executing announces that the agent is running a plan.
func Executing(job *jobstore.Job, planPath string) string {
	return fmt.Sprintf("%s Running the agent on `%s` (job #%d, branch `%s`).", TokenExecuting, planPath, job.ID, job.Branch)
}

// Fixing announces that the agent is addressing review feedback.
func Fixing(job *jobstore.Job, comments int) string {
	return fmt.Sprintf("%s Addressing %d review comment(s) (job #%d, branch `%s`).", TokenFixing, comments, job.ID, job.Branch)
}

// Done reports a completed plan run.
func Done(job *jobstore.Job, sha string, changed bool) string {
	return fmt.Sprintf("%s Job #%d finished. %s", TokenDone, job.ID, pushSummary(job.Branch, sha, changed))
}

// Fixed reports a completed review-fix run.
func Fixed(job *jobstore.Job, sha string, changed bool) string {
	return fmt.Sprintf("%s Job #%d addressed the review. %s", TokenFixed, job.ID, pushSummary(job.Branch, sha, changed))
}

// DebugDone reports a debug round trip and how long the job waited to be
// claimed.
func DebugDone(job *jobstore.Job, latency time.Duration) string {
	return fmt.Sprintf("%s Debug job #%d round trip complete. Claim latency: %s.", TokenDone, job.ID, latency.Round(time.Millisecond))
}

// Waiting reports that no plan file was found.
func Waiting(job *jobstore.Job, candidates []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Job #%d found no plan on branch `%s`. Add one of these files and comment `%s` again:\n", TokenWaiting, job.ID, job.Branch, job.Command.Token())
	for _, c := range candidates {
		fmt.Fprintf(&sb, "\n- `%s`", c)
	}
	return sb.String()
}

// Failed reports a failed job. A non-empty output is quoted by its tail.
func Failed(job *jobstore.Job, reason, output string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Job #%d failed: %s", TokenFailed, job.ID, reason)
	writeTail(&sb, output)
	return sb.String()
}

// Timeout reports a job whose agent run exceeded its time limit.
func Timeout(job *jobstore.Job, limit time.Duration, output string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Job #%d stopped after %s without finishing.", TokenTimeout, job.ID, limit)
	writeTail(&sb, output)
	return sb.String()
}

// QueueDepth answers a status command. It carries no token so it never
// reads as a lifecycle update.
func QueueDepth(repo string, d jobstore.Depth) string {
	return fmt.Sprintf("Queue for %s: %d pending, %d running.", repo, d.Pending, d.Running)
}

func pushSummary(branch, sha string, changed bool) string {
	if !changed {
		return fmt.Sprintf("No changes to push to `%s`.", branch)
	}
	return fmt.Sprintf("Pushed `%s` to `%s`.", shortSHA(sha), branch)
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func writeTail(sb *strings.Builder, output string) {
	output = strings.TrimSpace(output)
	if output == "" {
		return
	}
	lines := strings.Split(output, "\n")
	if len(lines) > maxTailLines {
		lines = lines[len(lines)-maxTailLines:]
	}
	sb.WriteString("\n\n<details><summary>Agent output (tail)</summary>\n\n```\n")
	sb.WriteString(strings.ReplaceAll(strings.Join(lines, "\n"), "```", "'''"))
	sb.WriteString("\n```\n</details>")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
