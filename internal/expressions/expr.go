package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/rigflow/pkg/schema"
)

// ExprEngine evaluates arithmetic formulas with expr-lang/expr. Besides the
// operators it offers the builtin math helpers (abs, ceil, floor, round, max,
// min) which covers what operators type into a formula field.
// Compiled programs are cached and safe for concurrent reuse.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr formula engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: newProgramCache[*vm.Program](maxCachedPrograms),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return DialectExpr
}

// Evaluate compiles (or reuses) the formula and runs it with data as the
// environment. Compile problems are VALIDATION_ERROR, runtime problems
// EXPRESSION_ERROR.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr formula")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return normalizeNumber(out), nil
}

func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	if prg, ok := e.cache.get(expression); ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache.put(expression, prg)
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
