// Package graph renders flows as Mermaid flowcharts.
package graph

import (
	"fmt"
	"strings"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// CapabilityFunc looks up the capabilities of a node type.
type CapabilityFunc func(nodeType string) (domain.NodeCapabilities, bool)

// Overlay holds run state to paint on the graph.
type Overlay struct {
	Complete []string
	Failed   []string
	Skipped  []string
	Running  []string
}

// OverlayFromEvents derives the node states of a run from its events.
// A node keeps the last state it reached.
func OverlayFromEvents(events []domain.Event) *Overlay {
	state := map[string]domain.NodeState{}
	var order []string
	set := func(id string, s domain.NodeState) {
		if _, seen := state[id]; !seen {
			order = append(order, id)
		}
		state[id] = s
	}
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case *domain.TaskStart:
			set(p.NodeID, domain.NodeRunning)
		case *domain.TaskComplete:
			set(p.NodeID, domain.NodeComplete)
		case *domain.TaskFailed:
			set(p.NodeID, domain.NodeFailed)
		case *domain.TaskSkipped:
			set(p.NodeID, domain.NodeSkipped)
		}
	}

	o := &Overlay{}
	for _, id := range order {
		switch state[id] {
		case domain.NodeRunning:
			o.Running = append(o.Running, id)
		case domain.NodeComplete:
			o.Complete = append(o.Complete, id)
		case domain.NodeFailed:
			o.Failed = append(o.Failed, id)
		case domain.NodeSkipped:
			o.Skipped = append(o.Skipped, id)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart for spec.
// It applies semantic styling:
// - Entry nodes (no incoming edge): ((Circle))
// - Agent and long-lived nodes: [[Subroutine]]
// - Gates: [/Parallelogram/]
// - Default: [Rectangle]
// Edges out of loop-control nodes are dotted. caps may be nil.
func GenerateMermaid(spec *domain.FlowSpec, caps CapabilityFunc, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	incoming := map[string]bool{}
	for _, e := range spec.Edges {
		incoming[e.To] = true
	}
	capsOf := func(nodeType string) domain.NodeCapabilities {
		if caps == nil {
			return domain.NodeCapabilities{}
		}
		c, _ := caps(nodeType)
		return c
	}

	for _, node := range spec.Nodes {
		safeID := sanitizeMermaidID(node.ID)
		c := capsOf(node.Type)

		opener, closer := "[", "]"
		switch {
		case !incoming[node.ID]:
			opener, closer = "((", "))"
		case node.Type == "gate":
			opener, closer = "[/", "/]"
		case c.IsAgent || c.IsLongLived:
			opener, closer = "[[", "]]"
		}

		label := node.ID
		if node.Type != "" && node.Type != "noop" {
			label += " <br/> " + node.Type
		}
		if node.Policy.Timeout > 0 {
			label += " <br/> ⏱️ " + node.Policy.Timeout.String()
		}
		if node.When != "" {
			label += " <br/> when " + quote(node.When)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)
	}

	for _, e := range spec.Edges {
		loop := false
		if from, ok := spec.Node(e.From); ok {
			loop = capsOf(from.Type).LoopControl
		}
		arrow := "-->"
		if loop {
			arrow = "-.->"
		}
		if e.When != "" {
			arrow = fmt.Sprintf("-- \"%s\" -->", quote(e.When))
			if loop {
				arrow = fmt.Sprintf("-. \"%s\" .->", quote(e.When))
			}
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.From), arrow, sanitizeMermaidID(e.To))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast on light fills, regardless of theme.
		sb.WriteString("    classDef complete fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#c62828,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef skipped fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray:4,color:#000;\n")
		sb.WriteString("    classDef running fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		writeClass(&sb, "complete", overlay.Complete)
		writeClass(&sb, "failed", overlay.Failed)
		writeClass(&sb, "skipped", overlay.Skipped)
		writeClass(&sb, "running", overlay.Running)
	}

	return sb.String()
}

func writeClass(sb *strings.Builder, class string, ids []string) {
	seen := make(map[string]bool)
	for _, id := range ids {
		safeID := sanitizeMermaidID(id)
		if safeID == "" || seen[safeID] {
			continue
		}
		seen[safeID] = true
		fmt.Fprintf(sb, "    class %s %s;\n", safeID, class)
	}
}

// quote escapes double quotes for Mermaid labels.
func quote(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
