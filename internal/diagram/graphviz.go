package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat is an output format of RenderImage.
type ImageFormat string

const (
	ImagePNG ImageFormat = "png"
	ImageSVG ImageFormat = "svg"
)

// MIMEType returns the media type of the format.
func (f ImageFormat) MIMEType() string {
	if f == ImageSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// RenderImage lays the model out with graphviz dot and returns the encoded image.
func RenderImage(ctx context.Context, model *DiagramModel, format ImageFormat) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case ImagePNG, "":
		gvFormat = graphviz.PNG
	case ImageSVG:
		gvFormat = graphviz.SVG
	default:
		return nil, fmt.Errorf("diagram: unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node)
	for _, node := range model.Nodes {
		if err := addNode(graph, node, gvNodes); err != nil {
			return nil, err
		}
	}

	addEdge := func(e Edge) {
		from, to := gvNodes[e.From], gvNodes[e.To]
		if from == nil || to == nil {
			return
		}
		edge, err := graph.CreateEdgeByName("", from, to)
		if err == nil && e.Label != "" {
			edge.SetLabel(e.Label)
		}
	}
	for _, e := range model.Edges {
		addEdge(e)
	}
	model.walk(func(n *Node) {
		for _, sg := range n.Children {
			if len(sg.Nodes) > 0 {
				addEdge(Edge{From: n.ID, To: sg.Nodes[0].ID, Label: sg.Label})
			}
			for _, e := range sg.Edges {
				addEdge(e)
			}
		}
	})

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// addNode creates node in g and its nested step lists as dashed clusters.
func addNode(g *cgraph.Graph, node *Node, index map[string]*cgraph.Node) error {
	gvNode, err := g.CreateNodeByName(node.ID)
	if err != nil {
		return fmt.Errorf("diagram: create node %s: %w", node.ID, err)
	}
	label := node.Label
	if node.Detail != "" {
		label += "\n" + node.Detail
	}
	gvNode.SetLabel(label)
	applyNodeStyle(gvNode, node)
	index[node.ID] = gvNode

	for _, sg := range node.Children {
		sub, err := g.CreateSubGraphByName("cluster_" + mermaidSafeID(sg.ID))
		if err != nil {
			return fmt.Errorf("diagram: create cluster %s: %w", sg.ID, err)
		}
		sub.SetLabel(sg.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)
		for _, child := range sg.Nodes {
			if err := addNode(sub, child, index); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNodeStyle sets shape by kind and fill by status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindCondition:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindLoop:
		gvNode.SetShape(cgraph.Shape("box3d"))
	case NodeKindWait:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindPrompt:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindControl:
		gvNode.SetShape(cgraph.Shape("cds"))
	case NodeKindAssign:
		gvNode.SetShape(cgraph.Shape("parallelogram"))
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	if node.Status != nil {
		applyStatusColor(gvNode, node.Status.Status)
		return
	}
	if node.Disabled {
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontColor("#888888")
	}
}

func applyStatusColor(gvNode *cgraph.Node, status string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case "succeeded":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "failed":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case "running":
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case "pending":
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	case "skipped":
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
