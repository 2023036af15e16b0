/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

// PromptLiteral lets table-driven tests pass templates held in variables.
type PromptLiteral = literal
