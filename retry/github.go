/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v84/github"
)

// IsTransientGitHubError reports whether err is a GitHub rate limit or a
// server-side failure worth retrying.
func IsTransientGitHubError(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusTooManyRequests:
			return true
		case code >= http.StatusInternalServerError:
			return true
		}
	}
	return false
}

// requestedWait extracts how long GitHub asked the caller to back off:
// the secondary rate limit's Retry-After, the primary rate limit's reset
// time, or a Retry-After header on any other error response.
func requestedWait(err error, now time.Time) (time.Duration, bool) {
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return max(*abuseErr.RetryAfter, 0), true
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) && !rateErr.Rate.Reset.IsZero() {
		return max(rateErr.Rate.Reset.Sub(now), 0), true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return parseRetryAfter(respErr.Response.Header.Get("Retry-After"), now)
	}
	return 0, false
}

// parseRetryAfter accepts both forms of the header: delay-seconds and an
// HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0), true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}
