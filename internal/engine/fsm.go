package engine

import (
	"sync"

	"github.com/rendis/rigflow/pkg/schema"
)

// TransitionHook is called after a step changes status.
type TransitionHook func(index int, from, to schema.StepStatus)

// ValidStepTransitions defines the allowed status changes for a top-level
// step during one run. Succeeded and skipped steps may run again when a
// jump moves the cursor backwards.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusSucceeded, schema.StepStatusFailed, schema.StepStatusSkipped},
	schema.StepStatusSucceeded: {schema.StepStatusRunning},
	schema.StepStatusSkipped:   {schema.StepStatusRunning},
	schema.StepStatusFailed:    {},
}

// ValidRunTransitions defines the allowed run status changes.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// StepFSM tracks and validates the status of every top-level step of a run.
type StepFSM struct {
	mu     sync.Mutex
	states []schema.StepStatus
	after  []TransitionHook
}

// NewStepFSM creates a machine with n pending steps.
func NewStepFSM(n int) *StepFSM {
	states := make([]schema.StepStatus, n)
	for i := range states {
		states[i] = schema.StepStatusPending
	}
	return &StepFSM{states: states}
}

// OnAfter registers a hook called after every successful transition.
func (f *StepFSM) OnAfter(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, hook)
}

// Transition moves step index to the given status. Skipping an already
// skipped step is a no-op.
func (f *StepFSM) Transition(index int, to schema.StepStatus) error {
	f.mu.Lock()
	if index < 0 || index >= len(f.states) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "step index %d out of range [0,%d)", index, len(f.states))
	}
	from := f.states[index]
	if from == to && to == schema.StepStatusSkipped {
		f.mu.Unlock()
		return nil
	}
	if !isValidStepTransition(from, to) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(index).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.states[index] = to
	hooks := append([]TransitionHook(nil), f.after...)
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(index, from, to)
	}
	return nil
}

// Status returns the current status of step index.
func (f *StepFSM) Status(index int) schema.StepStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.states) {
		return ""
	}
	return f.states[index]
}

// Snapshot returns a copy of every step status.
func (f *StepFSM) Snapshot() []schema.StepStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.StepStatus(nil), f.states...)
}

// SkipPending marks every step still pending as skipped and returns how many
// were changed.
func (f *StepFSM) SkipPending() int {
	n := 0
	for i, s := range f.Snapshot() {
		if s != schema.StepStatusPending {
			continue
		}
		if err := f.Transition(i, schema.StepStatusSkipped); err == nil {
			n++
		}
	}
	return n
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// runEventType maps a terminal run status to its event.
func runEventType(status schema.RunStatus) string {
	switch status {
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}
