/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"fmt"
	"maps"
)

// literal only accepts untyped string constants at call sites, which keeps
// runtime strings out of BindLiteral.
type literal string

// Prompt is a template with named placeholders.
type Prompt struct {
	template string
	bindings map[string]binding
}

// NewPrompt parses template and records its placeholders as unbound.
func NewPrompt(template literal) (*Prompt, error) {
	bindings := make(map[string]binding)
	if err := walkTemplate(string(template), func(name string) (string, error) {
		if _, ok := bindings[name]; !ok {
			bindings[name] = unbound(name)
		}
		return "", nil
	}, nil); err != nil {
		return nil, err
	}
	return &Prompt{template: string(template), bindings: bindings}, nil
}

// Placeholders returns the set of placeholder names in the template.
func (p *Prompt) Placeholders() map[string]struct{} {
	names := make(map[string]struct{}, len(p.bindings))
	for name := range p.bindings {
		names[name] = struct{}{}
	}
	return names
}

// BindLiteral binds a developer-supplied constant.
func (p *Prompt) BindLiteral(name string, value literal) (*Prompt, error) {
	return p.bind(name, literalBinding(value))
}

// BindYAML binds data encoded as YAML.
func (p *Prompt) BindYAML(name string, data any) (*Prompt, error) {
	return p.bind(name, yamlBinding{data: data})
}

func (p *Prompt) bind(name string, b binding) (*Prompt, error) {
	current, ok := p.bindings[name]
	if !ok {
		return nil, fmt.Errorf("binding %q not found in template", name)
	}
	if _, isUnbound := current.(unbound); !isUnbound {
		return nil, fmt.Errorf("binding %q already bound", name)
	}
	next := &Prompt{template: p.template, bindings: maps.Clone(p.bindings)}
	next.bindings[name] = b
	return next, nil
}

// Build renders the prompt. It fails if any placeholder is unbound.
func (p *Prompt) Build() (string, error) {
	values := make(map[string]string, len(p.bindings))
	for name, b := range p.bindings {
		v, err := b.render()
		if err != nil {
			return "", fmt.Errorf("rendering %q: %w", name, err)
		}
		values[name] = v
	}

	var out []byte
	err := walkTemplate(p.template, func(name string) (string, error) {
		return values[name], nil
	}, func(s string) {
		out = append(out, s...)
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
