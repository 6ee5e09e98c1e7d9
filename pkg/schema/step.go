package schema

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
)

// Step is one typed unit of work, at the top level of a workflow or inside a
// condition/loop body.
type Step struct {
	ID      string     `json:"id"`
	Number  int        `json:"number"`
	Type    StepType   `json:"type"`
	Params  Parameter  `json:"params"`
	Remark  string     `json:"remark,omitempty"`
	Enabled bool       `json:"enabled"`
	Status  StepStatus `json:"status,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// NewStep creates an enabled, pending step for the given parameter payload.
func NewStep(p Parameter) *Step {
	return &Step{
		ID:      uuid.New().String(),
		Type:    p.StepType(),
		Params:  p,
		Enabled: true,
		Status:  StepStatusPending,
	}
}

// Validate checks that the step's discriminant and payload agree.
func (s *Step) Validate() *ValidationResult {
	r := &ValidationResult{}
	if s.Type == "" {
		r.AddError("type", ErrCodeValidation, "step type is empty")
		return r
	}
	if _, ok := parameterFactories[s.Type]; !ok {
		r.AddError("type", ErrCodeValidation, "unknown step type "+string(s.Type))
		return r
	}
	if s.Params == nil {
		r.AddError("params", ErrCodeValidation, "parameter payload is missing")
		return r
	}
	if s.Params.StepType() != s.Type {
		r.AddError("params", ErrCodeValidation,
			"parameter payload is "+string(s.Params.StepType())+", step type is "+string(s.Type))
	}
	return r
}

// Clone returns a deep copy of the step via its wire form.
func (s *Step) Clone() (*Step, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out Step
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type stepWire struct {
	ID      string          `json:"id"`
	Number  int             `json:"number"`
	Type    StepType        `json:"type"`
	Params  json.RawMessage `json:"params"`
	Remark  string          `json:"remark,omitempty"`
	Enabled bool            `json:"enabled"`
	Status  StepStatus      `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MarshalJSON writes the canonical shape.
func (s *Step) MarshalJSON() ([]byte, error) {
	params := json.RawMessage(`{}`)
	if s.Params != nil {
		raw, err := json.Marshal(s.Params)
		if err != nil {
			return nil, err
		}
		params = raw
	}
	return json.Marshal(stepWire{
		ID:      s.ID,
		Number:  s.Number,
		Type:    s.Type,
		Params:  params,
		Remark:  s.Remark,
		Enabled: s.Enabled,
		Status:  s.Status,
		Error:   s.Error,
	})
}

// Keys recognised at the persistence boundary. The first entry of each list
// is the canonical key.
var (
	typeKeys    = []string{"type", "StepType", "StepName", "step_type", "stepType"}
	paramsKeys  = []string{"params", "Parameter", "parameter", "parameters", "Parameters"}
	idKeys      = []string{"id", "ID", "Id"}
	numberKeys  = []string{"number", "StepNumber", "step_number"}
	remarkKeys  = []string{"remark", "Remark", "description", "Description"}
	enabledKeys = []string{"enabled", "Enabled", "IsEnabled"}
	statusKeys  = []string{"status", "Status"}
	errorKeys   = []string{"error", "ErrorMessage", "error_message"}
)

// UnmarshalJSON accepts the canonical shape, the legacy StepName/Parameter
// shape, and a flattened record whose parameter fields sit next to "type".
func (s *Step) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return NewErrorf(ErrCodeValidation, "step is not an object: %s", err.Error()).WithCause(err)
	}

	var out Step
	out.Enabled = true
	out.Status = StepStatusPending

	raw, ok := take(fields, typeKeys)
	if !ok {
		return NewError(ErrCodeValidation, "step has no type")
	}
	var typeName string
	if err := json.Unmarshal(raw, &typeName); err != nil {
		return NewErrorf(ErrCodeValidation, "step type must be a string: %s", err.Error())
	}
	out.Type = StepType(typeName)

	if err := takeInto(fields, idKeys, &out.ID); err != nil {
		return err
	}
	if err := takeInto(fields, numberKeys, &out.Number); err != nil {
		return err
	}
	if err := takeInto(fields, remarkKeys, &out.Remark); err != nil {
		return err
	}
	if err := takeInto(fields, enabledKeys, &out.Enabled); err != nil {
		return err
	}
	if err := takeInto(fields, statusKeys, &out.Status); err != nil {
		return err
	}
	if err := takeInto(fields, errorKeys, &out.Error); err != nil {
		return err
	}

	params, ok := take(fields, paramsKeys)
	if !ok || isNull(params) {
		// Flattened record: whatever is left belongs to the payload.
		flat, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		params = flat
	}

	p, err := NewParameter(out.Type)
	if err != nil {
		return err
	}
	if err := decodeParams(params, p); err != nil {
		return NewErrorf(ErrCodeValidation, "invalid %s parameters: %s", out.Type, err.Error()).WithCause(err)
	}
	out.Params = p
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = StepStatusPending
	}

	*s = out
	return nil
}

// decodeParams decodes raw into p keeping literal numbers exact: integers
// come back as int64, other numbers as float64.
func decodeParams(raw json.RawMessage, p Parameter) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(p); err != nil {
		return err
	}
	if assign, ok := p.(*VariableAssignParams); ok {
		assign.Value = exactNumbers(assign.Value)
	}
	return nil
}

// exactNumbers replaces json.Number values, at any depth, with int64 or
// float64.
func exactNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = exactNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = exactNumbers(item)
		}
		return val
	default:
		return v
	}
}

// take removes and returns the first present key from fields.
func take(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			delete(fields, k)
			return v, true
		}
	}
	return nil, false
}

func takeInto(fields map[string]json.RawMessage, keys []string, dst any) error {
	raw, ok := take(fields, keys)
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewErrorf(ErrCodeValidation, "invalid step field %q: %s", keys[0], err.Error()).WithCause(err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
