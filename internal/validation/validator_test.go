package validation

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/pkg/schema"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func requireViolation(t *testing.T, err error) *schema.Error {
	t.Helper()
	require.Error(t, err)
	var flowErr *schema.Error
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
	return flowErr
}

func TestNew(t *testing.T) {
	v := newValidator(t)
	assert.NotNil(t, v.document)
	assert.Len(t, v.params, len(schema.KnownStepTypes()))
}

func TestValidateDocument_Valid(t *testing.T) {
	v := newValidator(t)
	doc := `{
		"name": "leak test",
		"steps": [
			{"type": "PLCRead", "params": {"module": "Bench", "tag": "Pressure", "target_variable": "P"}},
			{"type": "Condition", "params": {
				"expression": "{P} > 5",
				"true_steps": [{"type": "Message", "params": {"text": "high", "level": "warning"}}],
				"false_goto": 1
			}},
			{"type": "Loop", "params": {"count": 3, "body": [
				{"type": "Delay", "params": {"duration_ms": 100}},
				{"type": "Break", "params": {}}
			]}}
		]
	}`
	assert.NoError(t, v.ValidateDocument([]byte(doc)))
}

func TestValidateDocument_Problems(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"steps": [`},
		{"missing steps", `{"name": "x"}`},
		{"steps not array", `{"steps": {}}`},
		{"step without type", `{"steps": [{"params": {}}]}`},
		{"unknown type", `{"steps": [{"type": "Teleport", "params": {}}]}`},
		{"missing required param", `{"steps": [{"type": "PLCRead", "params": {"module": "Bench"}}]}`},
		{"negative delay", `{"steps": [{"type": "Delay", "params": {"duration_ms": -5}}]}`},
		{"bad cell address", `{"steps": [{"type": "ReadCell", "params": {"sheet": "R", "address": "A0", "target_variable": "x"}}]}`},
		{"bad operator", `{"steps": [{"type": "Condition", "params": {"left": "1", "operator": "=~", "right": "2"}}]}`},
		{"zero goto", `{"steps": [{"type": "Condition", "params": {"expression": "1", "true_goto": 0}}]}`},
		{"bad monitor mode", `{"steps": [{"type": "Monitor", "params": {"condition": "1", "mode": "sometimes", "timeout_ms": 5}}]}`},
		{"detection without check", `{"steps": [{"type": "Detection", "params": {"lower": 1}}]}`},
		{"nested problem", `{"steps": [{"type": "Loop", "params": {"count": 1, "body": [{"type": "Message", "params": {}}]}}]}`},
	}
	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireViolation(t, v.ValidateDocument([]byte(tt.doc)))
		})
	}
}

func TestValidateDocument_LegacyShapeAccepted(t *testing.T) {
	v := newValidator(t)
	doc := `{"steps": [{"StepName": "Delay", "Parameter": {"duration_ms": 10}}]}`
	assert.NoError(t, v.ValidateDocument([]byte(doc)))
}

func TestValidateDocument_ErrorDetails(t *testing.T) {
	v := newValidator(t)
	flowErr := requireViolation(t, v.ValidateDocument([]byte(`{"steps": [{"type": "PLCWrite", "params": {}}]}`)))
	require.Contains(t, flowErr.Details, "violations")
	violations, ok := flowErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidateValue_MarshalledWorkflow(t *testing.T) {
	v := newValidator(t)
	wf := schema.NewWorkflow("round trip")
	wf.AddStep(schema.NewStep(&schema.VariableAssignParams{Target: "x", Source: schema.AssignSourceLiteral, Value: 3}))
	wf.AddStep(schema.NewStep(&schema.WaitStableParams{Expression: "{x}", Tolerance: 0.5, StableMs: 100, TimeoutMs: 1000}))

	var doc map[string]any
	raw, err := json.Marshal(wf)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.NoError(t, v.ValidateValue(doc))
}

func TestValidateParameters(t *testing.T) {
	v := newValidator(t)

	assert.NoError(t, v.ValidateParameters(schema.StepTypeMonitor,
		&schema.MonitorParams{Condition: "{Door} == 1", Mode: schema.MonitorWhile, TimeoutMs: 500}))
	assert.NoError(t, v.ValidateParameters(schema.StepTypeWriteCell,
		json.RawMessage(`{"sheet": "Report", "address": "$B$12", "value": "{P}"}`)))

	requireViolation(t, v.ValidateParameters(schema.StepTypeMonitor, &schema.MonitorParams{Condition: "x"}))
	requireViolation(t, v.ValidateParameters(schema.StepTypeWriteCell, json.RawMessage(`{"sheet": "R"}`)))
	requireViolation(t, v.ValidateParameters("Teleport", map[string]any{}))
}

func TestParameterSchema(t *testing.T) {
	v := newValidator(t)

	for _, st := range schema.KnownStepTypes() {
		raw, err := v.ParameterSchema(st)
		require.NoError(t, err, st)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.Equal(t, string(st), doc["title"])
		assert.Equal(t, "object", doc["type"])
	}

	raw, err := v.ParameterSchema(schema.StepTypePLCRead)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.ElementsMatch(t, []any{"module", "tag", "target_variable"}, doc["required"])

	_, err = v.ParameterSchema("Teleport")
	var flowErr *schema.Error
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestValidator_Concurrent(t *testing.T) {
	v := newValidator(t)
	doc := []byte(`{"steps": [{"type": "Delay", "params": {"duration_ms": 1}}]}`)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- v.ValidateDocument(doc)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
