package schema

import "time"

// MaxVariableHistory bounds the per-variable change history.
const MaxVariableHistory = 20

// VariableType is the declared value type of a variable.
type VariableType string

const (
	VariableTypeString   VariableType = "String"
	VariableTypeInteger  VariableType = "Integer"
	VariableTypeDouble   VariableType = "Double"
	VariableTypeBoolean  VariableType = "Boolean"
	VariableTypeDateTime VariableType = "DateTime"
	VariableTypeObject   VariableType = "Object"
)

// VariableScope tells whether a variable belongs to one workflow or is global.
type VariableScope string

const (
	ScopeGlobal   VariableScope = "Global"
	ScopeWorkflow VariableScope = "Workflow"
)

// Variable is one named entry of the variable environment.
type Variable struct {
	Name        string         `json:"name"`
	Type        VariableType   `json:"type"`
	Value       any            `json:"value"`
	DisplayText string         `json:"display_text,omitempty"`
	Scope       VariableScope  `json:"scope"`
	IsSystem    bool           `json:"is_system,omitempty"`
	IsReadOnly  bool           `json:"is_read_only,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Source      string         `json:"source,omitempty"`
	SourceStep  int            `json:"source_step,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry records one value transition.
type HistoryEntry struct {
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	StepIndex int       `json:"step_index,omitempty"`
}
