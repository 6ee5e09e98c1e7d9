package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/pkg/schema"
)

const yamlWorkflow = `
name: pump check
description: pressure ramp with operator confirmation
steps:
  - type: VariableAssign
    params:
      target: Limit
      source: literal
      value: 6.5
  - type: Loop
    params:
      count: 3
      counter_variable: i
      body:
        - type: PLCRead
          params: {module: Pump, tag: Pressure, target_variable: P}
        - type: Condition
          params:
            expression: "{P} > {Limit}"
            true_steps:
              - type: Break
                params: {}
  - type: Message
    enabled: false
    params:
      text: "done"
      confirm: true
`

func TestDecodeWorkflow_YAML(t *testing.T) {
	v := newValidator(t)
	wf, err := v.DecodeWorkflow([]byte(yamlWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "pump check", wf.Name)
	assert.NotEmpty(t, wf.ID)
	assert.False(t, wf.CreatedAt.IsZero())
	require.Len(t, wf.Steps, 3)
	for i, s := range wf.Steps {
		assert.Equal(t, i+1, s.Number)
		assert.NotEmpty(t, s.ID)
	}

	assign, ok := wf.Steps[0].Params.(*schema.VariableAssignParams)
	require.True(t, ok)
	assert.Equal(t, 6.5, assign.Value)

	loop, ok := wf.Steps[1].Params.(*schema.LoopParams)
	require.True(t, ok)
	assert.Equal(t, 3, loop.Count)
	require.Len(t, loop.Body, 2)
	cond, ok := loop.Body[1].Params.(*schema.ConditionParams)
	require.True(t, ok)
	require.Len(t, cond.TrueSteps, 1)
	assert.Equal(t, schema.StepTypeBreak, cond.TrueSteps[0].Type)

	assert.False(t, wf.Steps[2].Enabled)
}

func TestDecodeWorkflow_JSON(t *testing.T) {
	v := newValidator(t)
	wf, err := v.DecodeWorkflow([]byte(`{"id": "wf-7", "name": "j", "steps": [{"type": "Delay", "params": {"duration_ms": 5}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "wf-7", wf.ID)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, int64(5), wf.Steps[0].Params.(*schema.DelayParams).DurationMs)
}

func TestDecodeWorkflow_Rejects(t *testing.T) {
	v := newValidator(t)

	_, err := v.DecodeWorkflow([]byte("steps:\n  - type: Delay\n    params: {duration_ms: -1}\n"))
	requireViolation(t, err)

	_, err = v.DecodeWorkflow([]byte("::: not yaml"))
	requireViolation(t, err)

	_, err = v.DecodeWorkflow([]byte("name: no steps"))
	requireViolation(t, err)
}

func TestNormalizeYAML(t *testing.T) {
	in := map[any]any{"a": []any{map[any]any{"b": 1}}}
	out, err := normalizeYAML(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{map[string]any{"b": 1}}}, out)

	_, err = normalizeYAML(map[any]any{1: "x"})
	requireViolation(t, err)
}
