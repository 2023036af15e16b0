/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/shurcooL/githubv4"
)

// ReviewComment is one piece of reviewer feedback.
type ReviewComment struct {
	Author string `yaml:"author"`
	Path   string `yaml:"path,omitempty"`
	Line   int    `yaml:"line,omitempty"`
	Body   string `yaml:"body"`
}

// ReviewComments returns the feedback the bot should address: top-level
// review bodies that request changes or comment, followed by every comment
// in unresolved review threads.
func (c *Client) ReviewComments(ctx context.Context, repo string, pr int) ([]ReviewComment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var query struct {
		Repository struct {
			PullRequest struct {
				Reviews struct {
					Nodes []struct {
						Author struct{ Login string }
						State  string
						Body   string
					}
				} `graphql:"reviews(last: 50)"`
				ReviewThreads struct {
					Nodes []struct {
						IsResolved bool
						IsOutdated bool
						Path       string
						Line       *int
						Comments   struct {
							Nodes []struct {
								Author struct{ Login string }
								Body   string
							}
						} `graphql:"comments(first: 50)"`
					}
				} `graphql:"reviewThreads(first: 100)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	variables := map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(name),
		"number": githubv4.Int(pr),
	}
	if err := c.graphql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying reviews of %s#%d: %w", repo, pr, err)
	}

	var out []ReviewComment
	for _, r := range query.Repository.PullRequest.Reviews.Nodes {
		if strings.TrimSpace(r.Body) == "" {
			continue
		}
		switch r.State {
		case "CHANGES_REQUESTED", "COMMENTED":
			out = append(out, ReviewComment{Author: r.Author.Login, Body: r.Body})
		}
	}
	for _, th := range query.Repository.PullRequest.ReviewThreads.Nodes {
		if th.IsResolved {
			continue
		}
		line := 0
		if th.Line != nil {
			line = *th.Line
		}
		for _, cm := range th.Comments.Nodes {
			out = append(out, ReviewComment{Author: cm.Author.Login, Path: th.Path, Line: line, Body: cm.Body})
		}
	}
	return out, nil
}
