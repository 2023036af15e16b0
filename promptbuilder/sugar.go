/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

// Must panics if err is non-nil. It is meant for package-level templates:
//
//	var p = promptbuilder.Must(promptbuilder.NewPrompt(`Plan: {{plan}}`))
func Must(p *Prompt, err error) *Prompt {
	if err != nil {
		panic(err)
	}
	return p
}

// MustNewPrompt is Must(NewPrompt(template)).
func MustNewPrompt(template literal) *Prompt {
	return Must(NewPrompt(template))
}

// MustBindLiteral is Must(p.BindLiteral(name, value)).
func (p *Prompt) MustBindLiteral(name string, value literal) *Prompt {
	return Must(p.BindLiteral(name, value))
}

// MustBindYAML is Must(p.BindYAML(name, data)).
func (p *Prompt) MustBindYAML(name string, data any) *Prompt {
	return Must(p.BindYAML(name, data))
}
