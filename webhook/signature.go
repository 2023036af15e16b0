/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"net/http"
	"strings"

	"github.com/google/go-github/v84/github"
)

// Signature headers set by GitHub on every delivery.
const (
	HeaderSignature256 = "X-Hub-Signature-256"
	HeaderSignature    = "X-Hub-Signature"
)

// VerifySignature reports whether header carries a valid HMAC of body under
// secret. Both "sha256=<hex>" and the legacy "sha1=<hex>" forms are accepted.
// A missing or malformed header, an empty secret and a mismatch are all
// rejected the same way.
func VerifySignature(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	if !strings.HasPrefix(header, "sha256=") && !strings.HasPrefix(header, "sha1=") {
		return false
	}
	// ValidateSignature compares with hmac.Equal.
	return github.ValidateSignature(header, body, secret) == nil
}

// SignatureHeader returns the strongest signature present on a request.
func SignatureHeader(h http.Header) string {
	if sig := h.Get(HeaderSignature256); sig != "" {
		return sig
	}
	return h.Get(HeaderSignature)
}
