/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type binding interface {
	render() (string, error)
}

type unbound string

func (u unbound) render() (string, error) {
	return "", fmt.Errorf("unbound placeholder: %s", string(u))
}

type literalBinding string

func (l literalBinding) render() (string, error) {
	return string(l), nil
}

type yamlBinding struct {
	data any
}

func (y yamlBinding) render() (string, error) {
	b, err := yaml.Marshal(y.data)
	if err != nil {
		return "", fmt.Errorf("marshaling YAML: %w", err)
	}
	return string(b), nil
}
