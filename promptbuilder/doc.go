/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package promptbuilder builds agent prompts from developer-written templates
and untrusted data.

Templates are string literals with {{name}} placeholders. Text written by
people on the pull request (review comments, branch names, file paths) is
only ever bound through an encoder, never spliced in as raw text:

	var p = promptbuilder.MustNewPrompt(`Address this feedback:
	{{review}}`)

	out, err := p.MustBindYAML("review", comments).Build()

Substitution is a single pass over the template, so a bound value that
itself contains "{{...}}" is emitted verbatim and never expanded. Every
Bind method returns a new Prompt; the receiver is left unchanged, so a
package-level template can be shared between jobs.
*/
package promptbuilder
