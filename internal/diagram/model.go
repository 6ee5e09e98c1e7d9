package diagram

// NodeKind selects how a node is drawn.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
	NodeKindIO        NodeKind = "io"
	NodeKindAssign    NodeKind = "assign"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindControl   NodeKind = "control"
	NodeKindWait      NodeKind = "wait"
	NodeKindPrompt    NodeKind = "prompt"
)

// DiagramModel is the renderer-independent graph of a workflow.
// Nodes are in execution order, start first and end last.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one step, or the virtual start/end marker.
type Node struct {
	ID       string
	Label    string // "<number> <type>"
	Detail   string // short parameter summary, may be empty
	Kind     NodeKind
	Disabled bool
	Status   *StatusOverlay
	Children []*SubGraph
}

// SubGraph is a nested step list: a condition branch or a loop body.
type SubGraph struct {
	ID    string
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries the outcome of a step in a run.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	Message    string
}

// Edge is a transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

const (
	startID = "__start__"
	endID   = "__end__"
)

// walk visits every node, nested ones included, depth first.
func (m *DiagramModel) walk(fn func(*Node)) {
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			fn(n)
			for _, sg := range n.Children {
				visit(sg.Nodes)
			}
		}
	}
	visit(m.Nodes)
}

// Find returns the node with the given ID, searching nested subgraphs.
func (m *DiagramModel) Find(id string) *Node {
	var found *Node
	m.walk(func(n *Node) {
		if found == nil && n.ID == id {
			found = n
		}
	})
	return found
}
