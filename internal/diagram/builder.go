package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/rigflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow. When result is non-nil its
// step summaries are overlaid on the top-level nodes; nested nodes take the
// status carried by their step, if any.
func Build(wf *schema.Workflow, result *schema.RunResult) (*DiagramModel, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow is nil")
	}

	summaries := make(map[int]schema.StepSummary)
	if result != nil {
		for _, s := range result.Steps {
			summaries[s.Index] = s
		}
	}

	ids := make([]string, len(wf.Steps))
	for i := range wf.Steps {
		ids[i] = "s" + strconv.Itoa(i+1)
	}

	nodes := make([]*Node, 0, len(wf.Steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i, step := range wf.Steps {
		node := stepToNode(ids[i], i+1, step)
		if sum, ok := summaries[i]; ok && sum.Status != "" {
			node.Status = &StatusOverlay{
				Status:     string(sum.Status),
				DurationMs: sum.DurationMs,
				Message:    sum.Message,
			}
		}
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	return &DiagramModel{
		Title: titleOf(wf),
		Nodes: nodes,
		Edges: topLevelEdges(wf.Steps, ids),
	}, nil
}

// stepToNode maps a step to a node, recursing into condition branches and
// loop bodies.
func stepToNode(id string, number int, step *schema.Step) *Node {
	node := &Node{
		ID:       id,
		Label:    fmt.Sprintf("%d %s", number, step.Type),
		Detail:   detail(step.Params),
		Kind:     kindOf(step.Type),
		Disabled: !step.Enabled,
		Status:   ownStatus(step),
	}
	if step.Params == nil {
		return node
	}

	for _, nested := range schema.Nested(step.Params) {
		if len(nested.Steps) == 0 {
			continue
		}
		label := branchLabel(nested.Field)
		sg := &SubGraph{ID: id + "_" + label, Label: label}
		prev := ""
		for i, child := range nested.Steps {
			childID := fmt.Sprintf("%s.%s%d", id, label[:1], i+1)
			sg.Nodes = append(sg.Nodes, stepToNode(childID, i+1, child))
			if prev != "" {
				sg.Edges = append(sg.Edges, Edge{From: prev, To: childID})
			}
			prev = childID
		}
		node.Children = append(node.Children, sg)
	}
	return node
}

// topLevelEdges links the steps in order and adds condition gotos. A
// condition with a goto on one outcome falls through on the other.
func topLevelEdges(steps []*schema.Step, ids []string) []Edge {
	if len(steps) == 0 {
		return []Edge{{From: startID, To: endID}}
	}

	edges := []Edge{{From: startID, To: ids[0]}}
	for i, step := range steps {
		next := endID
		if i+1 < len(ids) {
			next = ids[i+1]
		}

		cond, ok := step.Params.(*schema.ConditionParams)
		if !ok || (cond.TrueGoto == nil && cond.FalseGoto == nil) {
			edges = append(edges, Edge{From: ids[i], To: next})
			continue
		}
		for _, g := range []struct {
			label string
			goTo  *int
		}{{"true", cond.TrueGoto}, {"false", cond.FalseGoto}} {
			if g.goTo == nil {
				edges = append(edges, Edge{From: ids[i], To: next, Label: g.label})
				continue
			}
			n := *g.goTo
			if n < 1 || n > len(ids) {
				edges = append(edges, Edge{From: ids[i], To: endID, Label: fmt.Sprintf("%s: goto %d out of range", g.label, n)})
				continue
			}
			edges = append(edges, Edge{From: ids[i], To: ids[n-1], Label: g.label})
		}
	}
	return edges
}

func ownStatus(step *schema.Step) *StatusOverlay {
	if step.Status == "" || step.Status == schema.StepStatusPending {
		return nil
	}
	return &StatusOverlay{Status: string(step.Status), Message: step.Error}
}

func kindOf(t schema.StepType) NodeKind {
	switch t {
	case schema.StepTypeCondition:
		return NodeKindCondition
	case schema.StepTypeLoop:
		return NodeKindLoop
	case schema.StepTypeBreak, schema.StepTypeContinue:
		return NodeKindControl
	case schema.StepTypeDelay, schema.StepTypeWaitStable, schema.StepTypeDetection, schema.StepTypeMonitor:
		return NodeKindWait
	case schema.StepTypeMessage:
		return NodeKindPrompt
	case schema.StepTypeVariableAssign:
		return NodeKindAssign
	default:
		return NodeKindIO
	}
}

func branchLabel(field string) string {
	switch field {
	case "true_steps":
		return "true"
	case "false_steps":
		return "false"
	default:
		return field
	}
}

// detail summarises the parameters that matter when reading a diagram.
func detail(p schema.Parameter) string {
	switch v := p.(type) {
	case *schema.DelayParams:
		if v.DurationExpression != "" {
			return v.DurationExpression
		}
		return fmt.Sprintf("%dms", v.DurationMs)
	case *schema.VariableAssignParams:
		return fmt.Sprintf("%s <- %s", v.Target, v.Source)
	case *schema.ConditionParams:
		if v.Expression != "" {
			return v.Expression
		}
		return strings.TrimSpace(v.Left + " " + v.Operator + " " + v.Right)
	case *schema.LoopParams:
		if v.CountExpression != "" {
			return "x " + v.CountExpression
		}
		return fmt.Sprintf("x %d", v.Count)
	case *schema.PLCReadParams:
		return fmt.Sprintf("%s.%s -> %s", v.Module, v.Tag, v.TargetVariable)
	case *schema.PLCWriteParams:
		return fmt.Sprintf("%s.%s = %s", v.Module, v.Tag, v.Value)
	case *schema.ReadCellParams:
		return fmt.Sprintf("%s!%s -> %s", v.Sheet, v.Address, v.TargetVariable)
	case *schema.WriteCellParams:
		return fmt.Sprintf("%s!%s = %s", v.Sheet, v.Address, v.Value)
	case *schema.MessageParams:
		return truncate(v.Text, 32)
	case *schema.WaitStableParams:
		return fmt.Sprintf("%s ±%g for %dms", v.Expression, v.Tolerance, v.StableMs)
	case *schema.DetectionParams:
		if v.Condition != "" {
			return v.Condition
		}
		return v.Expression
	case *schema.MonitorParams:
		mode := v.Mode
		if mode == "" {
			mode = schema.MonitorUntil
		}
		return fmt.Sprintf("%s %s", mode, v.Condition)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func titleOf(wf *schema.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return "Workflow"
}
