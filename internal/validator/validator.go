package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/process"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// Check is an extra rule for a flow that already compiles. It returns one
// message per problem.
type Check func(spec *domain.FlowSpec) []string

// ValidateFlows loads and compiles the named flows (every flow of the loader
// when names is empty), runs checks on those that compile, and reports every
// problem at once.
func ValidateFlows(ctx context.Context, loader ports.FlowLoader, compile func(*domain.FlowSpec) error, names []string, checks ...Check) error {
	if len(names) == 0 {
		all, err := loader.List(ctx)
		if err != nil {
			return fmt.Errorf("list flows: %w", err)
		}
		names = all
	}

	var errors []string
	for _, name := range names {
		spec, err := loader.Load(ctx, name)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if err := compile(spec); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		for _, check := range checks {
			for _, msg := range check(spec) {
				errors = append(errors, fmt.Sprintf("%s: %s", name, msg))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(errors), strings.Join(errors, "\n- "))
	}
	return nil
}

// ExecTools reports exec nodes that name no tool or a tool outside allowed.
func ExecTools(allowed []string) Check {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}
	return func(spec *domain.FlowSpec) []string {
		var msgs []string
		for _, n := range spec.Nodes {
			if n.Type != process.NodeType {
				continue
			}
			tool, _ := n.Config["tool"].(string)
			switch {
			case tool == "":
				msgs = append(msgs, fmt.Sprintf("node %q: exec node without a tool", n.ID))
			case !known[tool]:
				msgs = append(msgs, fmt.Sprintf("node %q: tool %q is not allow-listed (known: %s)", n.ID, tool, list(known)))
			}
		}
		return msgs
	}
}

// Isolated reports nodes without edges in flows of more than one node.
// They still run, but usually an edge was forgotten.
func Isolated(spec *domain.FlowSpec) []string {
	if len(spec.Nodes) < 2 {
		return nil
	}
	linked := make(map[string]bool)
	for _, e := range spec.Edges {
		linked[e.From] = true
		linked[e.To] = true
	}
	var msgs []string
	for _, n := range spec.Nodes {
		if !linked[n.ID] {
			msgs = append(msgs, fmt.Sprintf("node %q has no edges", n.ID))
		}
	}
	return msgs
}

func list(set map[string]bool) string {
	if len(set) == 0 {
		return "none"
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
