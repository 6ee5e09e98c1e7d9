package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, "    ", node)
	}
	for _, edge := range model.Edges {
		writeMermaidEdge(&b, "    ", edge)
	}

	// Nested step lists hang off their parent with a labelled edge.
	for _, node := range model.Nodes {
		linkChildren(&b, node)
	}

	b.WriteString("\n")
	b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef disabled fill:#e8e8e8,stroke:#999,color:#888,stroke-dasharray:3 3\n")

	model.walk(func(n *Node) {
		if cls := mermaidClass(n); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), cls)
		}
	})

	return b.String()
}

func writeMermaidNode(b *strings.Builder, indent string, node *Node) {
	fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))
	for _, sg := range node.Children {
		fmt.Fprintf(b, "%ssubgraph %s[\"%s: %s\"]\n", indent, mermaidSafeID(sg.ID), mermaidEscapeLabel(node.Label), sg.Label)
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, indent+"    ", sub)
		}
		for _, edge := range sg.Edges {
			writeMermaidEdge(b, indent+"    ", edge)
		}
		fmt.Fprintf(b, "%send\n", indent)
	}
}

func linkChildren(b *strings.Builder, node *Node) {
	for _, sg := range node.Children {
		if len(sg.Nodes) > 0 {
			writeMermaidEdge(b, "    ", Edge{From: node.ID, To: sg.Nodes[0].ID, Label: sg.Label})
		}
		for _, sub := range sg.Nodes {
			linkChildren(b, sub)
		}
	}
}

func writeMermaidEdge(b *strings.Builder, indent string, edge Edge) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition shaped by kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)
	if node.Detail != "" {
		label += "<br/>" + mermaidEscapeLabel(node.Detail)
	}

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	case NodeKindLoop:
		return fmt.Sprintf("%s[[\"%s\"]]", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindPrompt:
		return fmt.Sprintf("%s{{\"%s\"}}", id, label)
	case NodeKindControl:
		return fmt.Sprintf("%s>\"%s\"]", id, label)
	case NodeKindAssign:
		return fmt.Sprintf("%s[/\"%s\"/]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel replaces characters that end a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "\n", " ")
	return r.Replace(s)
}

func mermaidClass(n *Node) string {
	if n.Status != nil {
		switch n.Status.Status {
		case "succeeded", "failed", "running", "skipped":
			return n.Status.Status
		}
	}
	if n.Disabled {
		return "disabled"
	}
	return ""
}
