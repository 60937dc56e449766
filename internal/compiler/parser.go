// Package compiler turns flow definitions into executable plans.
package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Parser is responsible for converting raw bytes into a FlowSpec.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a YAML flow definition. Unknown fields are rejected.
func (p *Parser) Parse(data []byte) (*domain.FlowSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec domain.FlowSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty flow definition", domain.ErrCompile)
		}
		return nil, fmt.Errorf("%w: failed to parse flow: %v", domain.ErrCompile, err)
	}

	for i, n := range spec.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node #%d missing id", domain.ErrCompile, i+1)
		}
		if n.Type == "" {
			return nil, fmt.Errorf("%w: node %q missing type", domain.ErrCompile, n.ID)
		}
	}
	return &spec, nil
}

// ParseFile reads and parses a flow file. A flow without a name takes
// the file name without its extension.
func (p *Parser) ParseFile(path string) (*domain.FlowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	spec, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = FlowName(path)
	}
	return spec, nil
}

// FlowName derives a flow name from a file path.
func FlowName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
