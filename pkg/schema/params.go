package schema

import "sort"

// StepType is the discriminant that selects a step's executor and parameter shape.
type StepType string

const (
	StepTypeDelay          StepType = "Delay"
	StepTypeVariableAssign StepType = "VariableAssign"
	StepTypeCondition      StepType = "Condition"
	StepTypeLoop           StepType = "Loop"
	StepTypeBreak          StepType = "Break"
	StepTypeContinue       StepType = "Continue"
	StepTypePLCRead        StepType = "PLCRead"
	StepTypePLCWrite       StepType = "PLCWrite"
	StepTypeReadCell       StepType = "ReadCell"
	StepTypeWriteCell      StepType = "WriteCell"
	StepTypeMessage        StepType = "Message"
	StepTypeWaitStable     StepType = "WaitStable"
	StepTypeDetection      StepType = "Detection"
	StepTypeMonitor        StepType = "Monitor"
)

// Parameter is the tagged union of step parameter payloads. Each step type
// owns exactly one concrete shape.
type Parameter interface {
	StepType() StepType
}

var parameterFactories = map[StepType]func() Parameter{
	StepTypeDelay:          func() Parameter { return &DelayParams{} },
	StepTypeVariableAssign: func() Parameter { return &VariableAssignParams{} },
	StepTypeCondition:      func() Parameter { return &ConditionParams{} },
	StepTypeLoop:           func() Parameter { return &LoopParams{} },
	StepTypeBreak:          func() Parameter { return &BreakParams{} },
	StepTypeContinue:       func() Parameter { return &ContinueParams{} },
	StepTypePLCRead:        func() Parameter { return &PLCReadParams{} },
	StepTypePLCWrite:       func() Parameter { return &PLCWriteParams{} },
	StepTypeReadCell:       func() Parameter { return &ReadCellParams{} },
	StepTypeWriteCell:      func() Parameter { return &WriteCellParams{} },
	StepTypeMessage:        func() Parameter { return &MessageParams{} },
	StepTypeWaitStable:     func() Parameter { return &WaitStableParams{} },
	StepTypeDetection:      func() Parameter { return &DetectionParams{} },
	StepTypeMonitor:        func() Parameter { return &MonitorParams{} },
}

// NewParameter returns an empty parameter payload for the given step type.
func NewParameter(t StepType) (Parameter, error) {
	factory, ok := parameterFactories[t]
	if !ok {
		return nil, NewErrorf(ErrCodeValidation, "unknown step type %q", string(t))
	}
	return factory(), nil
}

// KnownStepTypes lists every declared step type, sorted.
func KnownStepTypes() []StepType {
	types := make([]StepType, 0, len(parameterFactories))
	for t := range parameterFactories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// NestedSteps is one child step list of a container parameter.
type NestedSteps struct {
	Field string
	Steps []*Step
}

// Nested returns the child step lists of Condition and Loop parameters, in
// field order. Other parameters have none.
func Nested(p Parameter) []NestedSteps {
	switch v := p.(type) {
	case *ConditionParams:
		return []NestedSteps{{Field: "true_steps", Steps: v.TrueSteps}, {Field: "false_steps", Steps: v.FalseSteps}}
	case *LoopParams:
		return []NestedSteps{{Field: "body", Steps: v.Body}}
	default:
		return nil
	}
}

// DelayParams pauses execution. DurationExpression wins over DurationMs when set.
type DelayParams struct {
	DurationMs         int64  `json:"duration_ms"`
	DurationExpression string `json:"duration_expression,omitempty"`
}

func (*DelayParams) StepType() StepType { return StepTypeDelay }

// AssignSource selects where VariableAssign takes its value from.
type AssignSource string

const (
	AssignSourceLiteral    AssignSource = "literal"
	AssignSourceExpression AssignSource = "expression"
	AssignSourceVariable   AssignSource = "variable"
	AssignSourcePLC        AssignSource = "plc"
	AssignSourceCell       AssignSource = "cell"
	AssignSourceQuery      AssignSource = "query"
)

// VariableAssignParams writes a value into Target. Only the fields relevant
// to Source are read.
type VariableAssignParams struct {
	Target         string       `json:"target"`
	Source         AssignSource `json:"source"`
	Value          any          `json:"value,omitempty"`
	Expression     string       `json:"expression,omitempty"`
	SourceVariable string       `json:"source_variable,omitempty"`
	Module         string       `json:"module,omitempty"`
	Tag            string       `json:"tag,omitempty"`
	Sheet          string       `json:"sheet,omitempty"`
	Address        string       `json:"address,omitempty"`
	Query          string       `json:"query,omitempty"`
	VariableType   VariableType `json:"variable_type,omitempty"`
}

func (*VariableAssignParams) StepType() StepType { return StepTypeVariableAssign }

// ConditionParams selects a branch. Either Expression or the
// Left/Operator/Right triple is used. TrueGoto/FalseGoto are 1-based step
// numbers for flat top-level branching.
type ConditionParams struct {
	Expression string  `json:"expression,omitempty"`
	Left       string  `json:"left,omitempty"`
	Operator   string  `json:"operator,omitempty"`
	Right      string  `json:"right,omitempty"`
	TrueSteps  []*Step `json:"true_steps,omitempty"`
	FalseSteps []*Step `json:"false_steps,omitempty"`
	TrueGoto   *int    `json:"true_goto,omitempty"`
	FalseGoto  *int    `json:"false_goto,omitempty"`
}

func (*ConditionParams) StepType() StepType { return StepTypeCondition }

// LoopParams runs Body a bounded number of times.
type LoopParams struct {
	Count           int     `json:"count"`
	CountExpression string  `json:"count_expression,omitempty"`
	CounterVariable string  `json:"counter_variable,omitempty"`
	ExitCondition   string  `json:"exit_condition,omitempty"`
	Body            []*Step `json:"body,omitempty"`
}

func (*LoopParams) StepType() StepType { return StepTypeLoop }

type BreakParams struct{}

func (*BreakParams) StepType() StepType { return StepTypeBreak }

type ContinueParams struct{}

func (*ContinueParams) StepType() StepType { return StepTypeContinue }

// PLCReadParams reads Module/Tag into TargetVariable.
type PLCReadParams struct {
	Module         string `json:"module"`
	Tag            string `json:"tag"`
	TargetVariable string `json:"target_variable"`
}

func (*PLCReadParams) StepType() StepType { return StepTypePLCRead }

// PLCWriteParams writes the evaluated Value expression to Module/Tag.
type PLCWriteParams struct {
	Module string `json:"module"`
	Tag    string `json:"tag"`
	Value  string `json:"value"`
}

func (*PLCWriteParams) StepType() StepType { return StepTypePLCWrite }

// ReadCellParams reads one report cell into TargetVariable.
type ReadCellParams struct {
	Sheet          string `json:"sheet"`
	Address        string `json:"address"`
	TargetVariable string `json:"target_variable"`
}

func (*ReadCellParams) StepType() StepType { return StepTypeReadCell }

// WriteCellParams writes the evaluated Value expression to one report cell.
type WriteCellParams struct {
	Sheet   string `json:"sheet"`
	Address string `json:"address"`
	Value   string `json:"value"`
}

func (*WriteCellParams) StepType() StepType { return StepTypeWriteCell }

// MessageLevel is the severity shown to the operator.
type MessageLevel string

const (
	MessageLevelInfo    MessageLevel = "info"
	MessageLevelWarning MessageLevel = "warning"
	MessageLevelError   MessageLevel = "error"
)

// MessageParams shows Text to the operator, optionally asking for confirmation.
type MessageParams struct {
	Text           string       `json:"text"`
	Level          MessageLevel `json:"level,omitempty"`
	Confirm        bool         `json:"confirm,omitempty"`
	ResultVariable string       `json:"result_variable,omitempty"`
}

func (*MessageParams) StepType() StepType { return StepTypeMessage }

// WaitStableParams waits until Expression stays within Tolerance for StableMs.
type WaitStableParams struct {
	Expression     string  `json:"expression"`
	Tolerance      float64 `json:"tolerance"`
	StableMs       int64   `json:"stable_ms"`
	IntervalMs     int64   `json:"interval_ms,omitempty"`
	TimeoutMs      int64   `json:"timeout_ms"`
	TargetVariable string  `json:"target_variable,omitempty"`
}

func (*WaitStableParams) StepType() StepType { return StepTypeWaitStable }

// DetectionParams checks Expression against limits and/or a boolean Condition.
type DetectionParams struct {
	Expression     string   `json:"expression,omitempty"`
	Lower          *float64 `json:"lower,omitempty"`
	Upper          *float64 `json:"upper,omitempty"`
	Condition      string   `json:"condition,omitempty"`
	IntervalMs     int64    `json:"interval_ms,omitempty"`
	TimeoutMs      int64    `json:"timeout_ms,omitempty"`
	ResultVariable string   `json:"result_variable,omitempty"`
}

func (*DetectionParams) StepType() StepType { return StepTypeDetection }

// MonitorMode selects how Monitor treats its condition.
type MonitorMode string

const (
	// MonitorUntil waits for the condition to become true.
	MonitorUntil MonitorMode = "until"
	// MonitorWhile requires the condition to hold for the whole window.
	MonitorWhile MonitorMode = "while"
)

// MonitorParams samples Condition every IntervalMs for up to TimeoutMs.
type MonitorParams struct {
	Condition  string      `json:"condition"`
	Mode       MonitorMode `json:"mode,omitempty"`
	IntervalMs int64       `json:"interval_ms,omitempty"`
	TimeoutMs  int64       `json:"timeout_ms"`
}

func (*MonitorParams) StepType() StepType { return StepTypeMonitor }
