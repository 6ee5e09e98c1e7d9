package schema

import (
	"errors"
	"time"
)

// Outcome is the explicit result kind of a step execution. Break and Continue
// are control signals, not failures.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeBreak     Outcome = "break"
	OutcomeContinue  Outcome = "continue"
)

// StepResult is returned by every executor.
type StepResult struct {
	Outcome  Outcome       `json:"outcome"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	Output   any           `json:"output,omitempty"`
	// NextStepIndex redirects a top-level run to a zero-based step index.
	// Ignored inside nested bodies.
	NextStepIndex *int   `json:"next_step_index,omitempty"`
	Err           *Error `json:"error,omitempty"`
}

// OK returns a successful result.
func OK(message string) *StepResult {
	return &StepResult{Outcome: OutcomeOK, Message: message}
}

// OKWithOutput returns a successful result carrying an output payload.
func OKWithOutput(message string, output any) *StepResult {
	return &StepResult{Outcome: OutcomeOK, Message: message, Output: output}
}

// Fail returns a failed result from a structured error.
func Fail(err *Error) *StepResult {
	return &StepResult{Outcome: OutcomeFailed, Message: err.Message, Err: err}
}

// Failf returns a failed result with the given code and formatted message.
func Failf(code, format string, args ...any) *StepResult {
	return Fail(NewErrorf(code, format, args...))
}

// FailFromError converts an arbitrary error into a failed result, keeping
// the structured code when err is (or wraps) an *Error.
func FailFromError(code string, err error) *StepResult {
	var flowErr *Error
	if errors.As(err, &flowErr) {
		return Fail(flowErr)
	}
	return Fail(NewError(code, err.Error()).WithCause(err))
}

// Cancelled returns the distinct cancellation result.
func Cancelled(message string) *StepResult {
	if message == "" {
		message = "execution cancelled"
	}
	return &StepResult{
		Outcome: OutcomeCancelled,
		Message: message,
		Err:     NewError(ErrCodeCancelled, message),
	}
}

// Break returns a result asking the nearest enclosing loop to stop.
func Break() *StepResult {
	return &StepResult{Outcome: OutcomeBreak, Message: "break requested"}
}

// Continue returns a result asking the nearest enclosing loop to skip to its next iteration.
func Continue() *StepResult {
	return &StepResult{Outcome: OutcomeContinue, Message: "continue requested"}
}

// JumpTo returns a successful result that redirects the top-level cursor.
func JumpTo(index int, message string) *StepResult {
	return &StepResult{Outcome: OutcomeOK, Message: message, NextStepIndex: &index}
}

// Succeeded reports whether the step did its work without failure or
// cancellation. Break and Continue count as success.
func (r *StepResult) Succeeded() bool {
	return r.Outcome == OutcomeOK || r.Outcome == OutcomeBreak || r.Outcome == OutcomeContinue
}

// Failed reports a runtime failure.
func (r *StepResult) Failed() bool { return r.Outcome == OutcomeFailed }

// IsCancelled reports a cooperative cancellation.
func (r *StepResult) IsCancelled() bool { return r.Outcome == OutcomeCancelled }

// ShouldBreak reports a break signal.
func (r *StepResult) ShouldBreak() bool { return r.Outcome == OutcomeBreak }

// ShouldContinue reports a continue signal.
func (r *StepResult) ShouldContinue() bool { return r.Outcome == OutcomeContinue }

// IsSignal reports whether the result interrupts sibling execution
// (anything but a plain OK).
func (r *StepResult) IsSignal() bool { return r.Outcome != OutcomeOK }

// StepSummary is the per-step outcome recorded in a RunResult.
type StepSummary struct {
	Index      int        `json:"index"`
	Number     int        `json:"number"`
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	Message    string     `json:"message,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// RunResult is the outcome of one workflow run.
type RunResult struct {
	RunID           string        `json:"run_id"`
	WorkflowID      string        `json:"workflow_id"`
	WorkflowName    string        `json:"workflow_name,omitempty"`
	Status          RunStatus     `json:"status"`
	FailedStepIndex int           `json:"failed_step_index"`
	Message         string        `json:"message,omitempty"`
	Error           *Error        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Steps           []StepSummary `json:"steps,omitempty"`
}
