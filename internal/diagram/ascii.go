package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "succeeded":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a vertical box diagram. Branches and
// loop bodies are drawn indented under their step; jumps are listed after
// the step they leave from.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	jumps := make(map[string][]Edge)
	for _, e := range model.Edges {
		if e.Label != "" {
			jumps[e.From] = append(jumps[e.From], e)
		}
	}
	labels := make(map[string]string, len(model.Nodes))
	for _, n := range model.Nodes {
		labels[n.ID] = n.Label
	}

	for i, node := range model.Nodes {
		writeBox(&b, "", node)
		for _, e := range jumps[node.ID] {
			fmt.Fprintf(&b, "  %s: -> %s\n", e.Label, labels[e.To])
		}
		for _, sg := range node.Children {
			renderSubGraph(&b, "    ", sg)
		}
		if i < len(model.Nodes)-1 {
			b.WriteString("    │\n    ▼\n")
		}
	}
	return b.String()
}

func renderSubGraph(b *strings.Builder, indent string, sg *SubGraph) {
	fmt.Fprintf(b, "%s[%s]\n", indent, sg.Label)
	for _, node := range sg.Nodes {
		writeBox(b, indent, node)
		for _, child := range node.Children {
			renderSubGraph(b, indent+"    ", child)
		}
	}
}

// writeBox draws one node as a bordered box.
func writeBox(b *strings.Builder, indent string, node *Node) {
	lines := []string{node.Label}
	if node.Detail != "" {
		lines = append(lines, node.Detail)
	}
	var tags []string
	if node.Disabled {
		tags = append(tags, "(disabled)")
	}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			tags = append(tags, tag)
		}
		if node.Status.DurationMs > 0 {
			tags = append(tags, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}
	if len(tags) > 0 {
		lines = append(lines, strings.Join(tags, " "))
	}

	width := 0
	for _, l := range lines {
		width = max(width, utf8.RuneCountInString(l))
	}

	b.WriteString(indent + "┌" + strings.Repeat("─", width+2) + "┐\n")
	for _, l := range lines {
		pad := width - utf8.RuneCountInString(l)
		b.WriteString(indent + "│ " + l + strings.Repeat(" ", pad) + " │\n")
	}
	b.WriteString(indent + "└" + strings.Repeat("─", width+2) + "┘\n")
}
