package expressions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQ_FieldAccess(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"recipe": map[string]any{
			"limits": map[string]any{"upper": 80.5, "lower": int64(20)},
		},
	}

	out, err := e.Evaluate(context.Background(), ".recipe.limits.upper", data)
	require.NoError(t, err)
	assert.Equal(t, 80.5, out)

	out, err = e.Evaluate(context.Background(), ".recipe.limits.lower", data)
	require.NoError(t, err)
	assert.Equal(t, int64(20), out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"samples": []any{int64(1), int64(2), int64(3)}}

	out, err := e.Evaluate(context.Background(), ".samples[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out)

	out, err = e.Evaluate(context.Background(), ".samples | add", data)
	require.NoError(t, err)
	assert.Equal(t, int64(6), out)
}

func TestGoJQ_NoOutput(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_TimeValuesBecomeStrings(t *testing.T) {
	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	out, err := NewGoJQEngine().Evaluate(context.Background(), ".started", map[string]any{"started": ts})
	require.NoError(t, err)
	assert.Equal(t, "2026-05-06T07:08:09Z", out)
}

func TestGoJQ_ParseError(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), ".[", nil)
	require.Error(t, err)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), "$ENV | length", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out)
}
