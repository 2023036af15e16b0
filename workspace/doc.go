/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workspace prepares the local clone of a watched repository for a
// job: it fetches and checks out the pull request branch, locates the plan,
// and commits and pushes whatever the agent changed.
//
// Clones are long-lived and owned by the operator. Each checkout discards
// uncommitted leftovers from the previous job before switching branches.
package workspace
