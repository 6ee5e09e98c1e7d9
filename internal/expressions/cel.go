package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rendis/rigflow/pkg/schema"
)

// CELEngine evaluates formulas written in Google's Common Expression
// Language. Variables are reachable as vars.<name>; after {name}
// substitution most formulas are plain literal arithmetic.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL formula engine whose only declared variable is
// vars: map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newProgramCache[cel.Program](maxCachedPrograms),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return DialectCEL
}

// Evaluate compiles (or reuses) a CEL program and evaluates it with data
// bound to vars.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL formula")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	vars := data
	if vars == nil {
		vars = map[string]any{}
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{"vars": vars})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return normalizeNumber(out.Value()), nil
}

// getOrCompile parses and type-checks expression. Text that does not parse,
// or only names undeclared identifiers, is not CEL and yields
// VALIDATION_ERROR; any other type-check failure, such as int * double, is a
// broken formula and yields EXPRESSION_ERROR.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	if prg, ok := e.cache.get(expression); ok {
		return prg, nil
	}

	parsed, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL parse error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	checked, issues := e.env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		code := schema.ErrCodeExpression
		if onlyUndeclared(issues) {
			code = schema.ErrCodeValidation
		}
		return nil, schema.NewErrorf(code,
			"CEL type error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(checked, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache.put(expression, prg)
	return prg, nil
}

func onlyUndeclared(issues *cel.Issues) bool {
	errs := issues.Errors()
	if len(errs) == 0 {
		return false
	}
	for _, ce := range errs {
		if !strings.Contains(ce.Message, "undeclared reference") {
			return false
		}
	}
	return true
}

var _ Engine = (*CELEngine)(nil)
