/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package platform talks to GitHub: comments, pull request lookups and the
// review feedback used for fix prompts.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Config selects how the client authenticates. Either Token or the three
// GitHub App fields must be set.
type Config struct {
	Token string

	AppID          int64
	InstallationID int64
	PrivateKeyPath string

	// APIURL is the REST base of a GitHub Enterprise Server, for example
	// https://ghe.example.com/api/v3/. Empty means github.com.
	APIURL string
}

// Client wraps the REST and GraphQL clients with the credentials used for
// git operations.
type Client struct {
	rest        *github.Client
	graphql     *githubv4.Client
	tokenSource oauth2.TokenSource
}

// New builds a Client from cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var (
		httpClient *http.Client
		ts         oauth2.TokenSource
		base       = otelhttp.NewTransport(http.DefaultTransport)
	)
	switch {
	case cfg.Token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base}), ts)
	case cfg.AppID != 0 && cfg.InstallationID != 0 && cfg.PrivateKeyPath != "":
		itr, err := ghinstallation.NewKeyFromFile(base, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading GitHub App key: %w", err)
		}
		if cfg.APIURL != "" {
			itr.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
		}
		ts = installationTokenSource{itr: itr}
		httpClient = &http.Client{Transport: itr}
	default:
		return nil, errors.New("either a token or GitHub App credentials are required")
	}

	rest := github.NewClient(httpClient)
	graphql := githubv4.NewClient(httpClient)
	if cfg.APIURL != "" {
		var err error
		rest, err = rest.WithEnterpriseURLs(cfg.APIURL, cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise URL: %w", err)
		}
		graphql = githubv4.NewEnterpriseClient(graphqlURL(rest.BaseURL.String()), httpClient)
	}

	return &Client{rest: rest, graphql: graphql, tokenSource: ts}, nil
}

// graphqlURL maps a REST base such as https://host/api/v3/ to
// https://host/api/graphql.
func graphqlURL(restBase string) string {
	base := strings.TrimSuffix(restBase, "/")
	base = strings.TrimSuffix(base, "/v3")
	return base + "/graphql"
}

// TokenSource returns the credentials for fetching and pushing over HTTPS.
func (c *Client) TokenSource() oauth2.TokenSource {
	return c.tokenSource
}

type installationTokenSource struct {
	itr *ghinstallation.Transport
}

func (s installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.itr.Token(context.Background())
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return owner, name, nil
}

// CreateComment posts body as a new comment on the pull request.
func (c *Client) CreateComment(ctx context.Context, repo string, pr int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	if _, _, err := c.rest.Issues.CreateComment(ctx, owner, name, pr, &github.IssueComment{
		Body: github.Ptr(body),
	}); err != nil {
		return fmt.Errorf("creating comment on %s#%d: %w", repo, pr, err)
	}
	return nil
}

// HeadBranch returns the head branch of a pull request. Pull requests from
// forks are rejected since the bot can only push to its own repository.
func (c *Client) HeadBranch(ctx context.Context, repo string, pr int) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	p, _, err := c.rest.PullRequests.Get(ctx, owner, name, pr)
	if err != nil {
		return "", fmt.Errorf("getting pull request %s#%d: %w", repo, pr, err)
	}
	head := p.GetHead()
	if fork := head.GetRepo().GetFullName(); fork != "" && !strings.EqualFold(fork, repo) {
		return "", fmt.Errorf("pull request %s#%d comes from fork %s", repo, pr, fork)
	}
	if head.GetRef() == "" {
		return "", fmt.Errorf("pull request %s#%d has no head branch", repo, pr)
	}
	return head.GetRef(), nil
}
