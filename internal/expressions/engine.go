package expressions

import (
	"context"
	"fmt"
	"strings"
)

// Engine evaluates one formula dialect. ExprEngine and CELEngine back the
// arithmetic stage of the Evaluator; GoJQEngine serves object queries.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Formula dialect names accepted by NewFormulaEngine.
const (
	DialectExpr = "expr"
	DialectCEL  = "cel"
)

// NewFormulaEngine returns the arithmetic engine for the named dialect.
// An empty name selects expr.
func NewFormulaEngine(dialect string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "", DialectExpr:
		return NewExprEngine(), nil
	case DialectCEL:
		return NewCELEngine()
	default:
		return nil, fmt.Errorf("unknown formula engine %q", dialect)
	}
}

// normalizeNumber maps engine-native numeric results onto int64 / float64.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
