/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

// Bindable is implemented by request types that know how to fill a template
// with their own data.
type Bindable interface {
	Bind(p *Prompt) (*Prompt, error)
}

// Render binds req into p and builds the result.
func Render(p *Prompt, req Bindable) (string, error) {
	bound, err := req.Bind(p)
	if err != nil {
		return "", err
	}
	return bound.Build()
}
