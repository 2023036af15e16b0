/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{Token: "test-token", APIURL: srv.URL + "/api/v3/"})
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{AppID: 1, InstallationID: 2, PrivateKeyPath: "/does/not/exist.pem"})
	require.Error(t, err)
}

func TestTokenSource(t *testing.T) {
	c, err := New(context.Background(), Config{Token: "abc"})
	require.NoError(t, err)

	tok, err := c.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, "abc", tok.AccessToken)
}

func TestGraphqlURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://ghe.example.com/api/v3/", "https://ghe.example.com/api/graphql"},
		{"https://ghe.example.com/api/v3", "https://ghe.example.com/api/graphql"},
		{"https://api.github.com/", "https://api.github.com/graphql"},
	}
	for _, tt := range tests {
		if got := graphqlURL(tt.in); got != tt.want {
			t.Errorf("graphqlURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateComment(t *testing.T) {
	var gotBody, gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/octo/repo/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var c struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotBody = c.Body
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": 1}`)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.CreateComment(context.Background(), "octo/repo", 7, "[queued] hello"))
	require.Equal(t, "[queued] hello", gotBody)
	require.Equal(t, "Bearer test-token", gotAuth)
}

func TestCreateCommentErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/octo/repo/issues/7/comments", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	require.Error(t, c.CreateComment(context.Background(), "octo/repo", 7, "x"))
	require.Error(t, c.CreateComment(context.Background(), "not-a-repo", 7, "x"))
}

func TestHeadBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/octo/repo/pulls/{n}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("n") {
		case "1":
			_, _ = io.WriteString(w, `{"number":1,"head":{"ref":"feature","repo":{"full_name":"octo/repo"}}}`)
		case "2":
			_, _ = io.WriteString(w, `{"number":2,"head":{"ref":"feature","repo":{"full_name":"someone/repo"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"Not Found"}`)
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	branch, err := c.HeadBranch(ctx, "octo/repo", 1)
	require.NoError(t, err)
	require.Equal(t, "feature", branch)

	_, err = c.HeadBranch(ctx, "octo/repo", 2)
	require.ErrorContains(t, err, "fork")

	_, err = c.HeadBranch(ctx, "octo/repo", 3)
	require.Error(t, err)
}

func TestReviewComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Variables["owner"] != "octo" || req.Variables["repo"] != "repo" || req.Variables["number"] != float64(9) {
			http.Error(w, "unexpected variables", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"repository":{"pullRequest":{
			"reviews":{"nodes":[
				{"author":{"login":"alice"},"state":"CHANGES_REQUESTED","body":"Please add tests."},
				{"author":{"login":"bob"},"state":"APPROVED","body":"LGTM"},
				{"author":{"login":"carol"},"state":"COMMENTED","body":"   "}
			]},
			"reviewThreads":{"nodes":[
				{"isResolved":false,"isOutdated":false,"path":"main.go","line":12,"comments":{"nodes":[
					{"author":{"login":"alice"},"body":"Handle the error."},
					{"author":{"login":"dave"},"body":"+1"}
				]}},
				{"isResolved":true,"isOutdated":false,"path":"old.go","line":3,"comments":{"nodes":[
					{"author":{"login":"alice"},"body":"done already"}
				]}},
				{"isResolved":false,"isOutdated":true,"path":"doc.md","line":null,"comments":{"nodes":[
					{"author":{"login":"erin"},"body":"Typo."}
				]}}
			]}
		}}}}`)
	})
	c := newTestClient(t, mux)

	got, err := c.ReviewComments(context.Background(), "octo/repo", 9)
	require.NoError(t, err)

	want := []ReviewComment{
		{Author: "alice", Body: "Please add tests."},
		{Author: "alice", Path: "main.go", Line: 12, Body: "Handle the error."},
		{Author: "dave", Path: "main.go", Line: 12, Body: "+1"},
		{Author: "erin", Path: "doc.md", Body: "Typo."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReviewComments() mismatch (-want +got):\n%s", diff)
	}
}
