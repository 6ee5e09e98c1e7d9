package steps

import "strconv"

// ExecutionContext describes where a step runs. StepIndex is always the
// zero-based index of the enclosing top-level step.
type ExecutionContext struct {
	StepIndex    int
	TotalSteps   int
	WorkflowID   string
	WorkflowName string
	RunID        string

	// Depth is 0 for top-level steps and grows by one per nesting level.
	Depth int
	// Position is the index within the step list currently being run.
	Position int
	// Path is the 1-based position chain, e.g. "3/2" for the second child
	// of the third top-level step.
	Path string

	InLoop      bool
	LoopCounter int
	LoopTotal   int
}

// TopLevel returns the context of a top-level step.
func TopLevel(index, total int, workflowID, workflowName, runID string) *ExecutionContext {
	return &ExecutionContext{
		StepIndex:    index,
		TotalSteps:   total,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		RunID:        runID,
		Position:     index,
		Path:         strconv.Itoa(index + 1),
	}
}

// Derive returns a copy for the child at position within a nested list of
// total steps. Loop state is carried forward.
func (ec *ExecutionContext) Derive(position, total int) *ExecutionContext {
	child := *ec
	child.Depth = ec.Depth + 1
	child.Position = position
	child.TotalSteps = total
	if ec.Path == "" {
		child.Path = strconv.Itoa(position + 1)
	} else {
		child.Path = ec.Path + "/" + strconv.Itoa(position+1)
	}
	return &child
}

// WithLoop returns a copy marked as inside a loop at the given iteration.
func (ec *ExecutionContext) WithLoop(counter, total int) *ExecutionContext {
	child := *ec
	child.InLoop = true
	child.LoopCounter = counter
	child.LoopTotal = total
	return &child
}
