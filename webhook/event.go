/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"errors"
	"fmt"

	"chainguard.dev/planbot/command"
	"github.com/go-playground/validator/v10"
	"github.com/google/go-github/v84/github"
)

// Event types the receiver acts on.
const (
	EventIssueComment = "issue_comment"
	EventPullRequest  = "pull_request"
)

// ErrMalformed is returned for an accepted event type whose payload cannot be
// decoded or is missing required fields.
var ErrMalformed = errors.New("malformed event payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is the subset of a delivery needed to queue work.
type Event struct {
	Type      string `validate:"required,oneof=issue_comment pull_request"`
	Action    string `validate:"required"`
	Repo      string `validate:"required,contains=/"`
	PRNumber  int    `validate:"gt=0"`
	Branch    string
	Body      string
	Author    string `validate:"required"`
	CommentID int64  `validate:"required"`
}

// Command extracts the command carried by the event. Comments match on
// their first line; a pull request description matches on any line.
func (e *Event) Command() command.Command {
	if e.Type == EventPullRequest {
		return command.ParseBody(e.Body)
	}
	return command.Parse(e.Body)
}

// ParseEvent decodes a delivery. It returns nil without error for events
// the bot does not act on: other event types, other actions and comments on
// plain issues.
func ParseEvent(eventType string, payload []byte) (*Event, error) {
	if eventType != EventIssueComment && eventType != EventPullRequest {
		return nil, nil
	}

	raw, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var ev *Event
	switch e := raw.(type) {
	case *github.IssueCommentEvent:
		issue := e.GetIssue()
		if e.GetAction() != "created" || issue == nil || !issue.IsPullRequest() {
			return nil, nil
		}
		ev = &Event{
			Type:      EventIssueComment,
			Action:    e.GetAction(),
			Repo:      e.GetRepo().GetFullName(),
			PRNumber:  issue.GetNumber(),
			Body:      e.GetComment().GetBody(),
			Author:    e.GetSender().GetLogin(),
			CommentID: e.GetComment().GetID(),
		}
	case *github.PullRequestEvent:
		if e.GetAction() != "opened" {
			return nil, nil
		}
		pr := e.GetPullRequest()
		ev = &Event{
			Type:     EventPullRequest,
			Action:   e.GetAction(),
			Repo:     e.GetRepo().GetFullName(),
			PRNumber: pr.GetNumber(),
			Branch:   pr.GetHead().GetRef(),
			Body:     pr.GetBody(),
			Author:   e.GetSender().GetLogin(),
			// Pull request ids and comment ids come from different
			// sequences; negating keeps the dedup keys disjoint.
			CommentID: -pr.GetID(),
		}
	default:
		return nil, fmt.Errorf("%w: unexpected payload %T", ErrMalformed, raw)
	}

	if err := validate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s failed on '%s'", ErrMalformed, verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return ev, nil
}
