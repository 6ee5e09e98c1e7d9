package expressions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/rendis/rigflow/pkg/schema"
)

// Epsilon is the tolerance of numeric equality in relational expressions.
const Epsilon = 1e-4

var (
	tokenPattern    = regexp.MustCompile(`\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}`)
	numberPattern   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	integerPattern  = regexp.MustCompile(`^[+-]?\d+$`)
	relationalOrder = []string{"==", "!=", ">=", "<=", ">", "<"}
)

// VariableSource supplies variable values by name. *variables.Store
// satisfies it.
type VariableSource interface {
	Value(name string) (any, bool)
}

// Evaluator turns the string expressions found in step parameters into
// values. It understands {name} references, literals, a single relational
// comparison, AND/OR chains, and arithmetic formulas handed to a formula
// Engine. Anything else evaluates to its own trimmed text.
type Evaluator struct {
	vars    VariableSource
	formula Engine
	logger  *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFormulaEngine replaces the default expr formula engine.
func WithFormulaEngine(engine Engine) Option {
	return func(e *Evaluator) {
		if engine != nil {
			e.formula = engine
		}
	}
}

// WithLogger sets the logger used for unresolved-variable warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator creates an Evaluator reading variables from vars.
func NewEvaluator(vars VariableSource, opts ...Option) *Evaluator {
	e := &Evaluator{
		vars:    vars,
		formula: NewExprEngine(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FormulaEngine returns the name of the configured formula dialect.
func (e *Evaluator) FormulaEngine() string {
	return e.formula.Name()
}

// Evaluate resolves variables in expression and evaluates the result.
func (e *Evaluator) Evaluate(ctx context.Context, expression string) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expression is empty")
	}
	format := formatOperand
	if e.formula.Name() == DialectCEL {
		// CEL has no int * double overload, so a Double keeps its decimal point.
		format = formatCELOperand
	}
	resolved := e.substitute(ctx, expression, format)
	return e.eval(ctx, resolved)
}

// EvaluateBoolean evaluates expression and coerces the value with ToBool.
// Evaluation errors are logged and read as false.
func (e *Evaluator) EvaluateBoolean(ctx context.Context, expression string) bool {
	v, err := e.Evaluate(ctx, expression)
	if err != nil {
		e.logger.WarnContext(ctx, "condition evaluation failed",
			slog.String("expression", expression), slog.String("error", err.Error()))
		return false
	}
	return ToBool(v)
}

// EvaluateNumber evaluates expression and requires a numeric result.
func (e *Evaluator) EvaluateNumber(ctx context.Context, expression string) (float64, error) {
	v, err := e.Evaluate(ctx, expression)
	if err != nil {
		return 0, err
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeExpression,
			"expression %q is not numeric (got %v)", expression, v)
	}
	return f, nil
}

// ResolveVariables replaces {name} tokens with display text and returns the
// resulting string without evaluating it.
func (e *Evaluator) ResolveVariables(ctx context.Context, expression string) string {
	return e.substitute(ctx, expression, formatDisplay)
}

func (e *Evaluator) substitute(ctx context.Context, expression string, format func(any) string) string {
	return tokenPattern.ReplaceAllStringFunc(expression, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		var (
			v  any
			ok bool
		)
		if e.vars != nil {
			v, ok = e.vars.Value(name)
		}
		if !ok {
			e.logger.WarnContext(ctx, "undefined variable in expression, using 0",
				slog.String("variable", name))
			return "0"
		}
		return format(v)
	})
}

func (e *Evaluator) eval(ctx context.Context, s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty operand")
	}

	if lit, ok := parseLiteral(s); ok {
		return lit, nil
	}

	parts, op, err := splitLogical(s)
	if err != nil {
		return nil, err
	}
	if len(parts) > 1 {
		return e.evalLogical(ctx, parts, op)
	}

	if left, op, right, ok := splitRelational(s); ok {
		return e.evalRelational(ctx, left, op, right)
	}

	v, err := e.formula.Evaluate(ctx, s, nil)
	if err != nil {
		var flowErr *schema.Error
		if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeValidation {
			// Not a formula in this dialect.
			return s, nil
		}
		return nil, err
	}
	if v == nil {
		return s, nil
	}
	return v, nil
}

// evalLogical evaluates every operand; there is no short-circuit.
func (e *Evaluator) evalLogical(ctx context.Context, parts []string, op string) (any, error) {
	results := make([]bool, len(parts))
	for i, part := range parts {
		v, err := e.eval(ctx, part)
		if err != nil {
			return nil, err
		}
		results[i] = ToBool(v)
	}

	if op == "AND" {
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return true, nil
	}
	for _, r := range results {
		if r {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) evalRelational(ctx context.Context, left, op, right string) (any, error) {
	l, err := e.operand(ctx, left)
	if err != nil {
		return nil, err
	}
	r, err := e.operand(ctx, right)
	if err != nil {
		return nil, err
	}

	lf, lnum := ToFloat(l)
	rf, rnum := ToFloat(r)
	if lnum && rnum {
		switch op {
		case "==":
			return math.Abs(lf-rf) < Epsilon, nil
		case "!=":
			return math.Abs(lf-rf) >= Epsilon, nil
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf || math.Abs(lf-rf) < Epsilon, nil
		case "<=":
			return lf <= rf || math.Abs(lf-rf) < Epsilon, nil
		}
	}

	ls, rs := operandText(l), operandText(r)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case "<":
		return ls < rs, nil
	case ">=":
		return ls >= rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeExpression, "unsupported operator %q", op)
}

// operand evaluates one side of a comparison: a literal, a numeric formula,
// or else the raw text. A formula that parses but fails to evaluate is an
// error rather than text.
func (e *Evaluator) operand(ctx context.Context, s string) (any, error) {
	s = strings.TrimSpace(s)
	if lit, ok := parseLiteral(s); ok {
		return lit, nil
	}
	if s == "" {
		return "", nil
	}
	v, err := e.formula.Evaluate(ctx, s, nil)
	if err != nil {
		var flowErr *schema.Error
		if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeExpression {
			return nil, err
		}
		return s, nil
	}
	if _, ok := ToFloat(v); ok {
		return v, nil
	}
	return s, nil
}

// parseLiteral recognises numbers, booleans and one double-quoted string.
func parseLiteral(s string) (any, bool) {
	if numberPattern.MatchString(s) {
		if integerPattern.MatchString(s) {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	if strings.EqualFold(s, "true") {
		return true, true
	}
	if strings.EqualFold(s, "false") {
		return false, true
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u, true
		}
	}
	return nil, false
}

// splitLogical splits s on AND / OR keywords outside quotes. A single part
// means no keyword was found.
func splitLogical(s string) ([]string, string, error) {
	var (
		parts         []string
		op            string
		start         int
		inQuote       bool
		sawAnd, sawOr bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inQuote = !inQuote
			continue
		}
		if inQuote || c != ' ' {
			continue
		}
		switch {
		case i+5 <= len(s) && strings.EqualFold(s[i:i+5], " AND "):
			sawAnd = true
			parts = append(parts, s[start:i])
			start = i + 5
			i += 3
		case i+4 <= len(s) && strings.EqualFold(s[i:i+4], " OR "):
			sawOr = true
			parts = append(parts, s[start:i])
			start = i + 4
			i += 2
		}
	}
	if sawAnd && sawOr {
		return nil, "", schema.NewErrorf(schema.ErrCodeExpression,
			"cannot mix AND and OR in one expression: %q", s)
	}
	parts = append(parts, s[start:])
	switch {
	case sawAnd:
		op = "AND"
	case sawOr:
		op = "OR"
	}
	return parts, op, nil
}

// splitRelational reports the operands when s holds exactly one relational
// operator outside quotes.
func splitRelational(s string) (string, string, string, bool) {
	var (
		found   int
		pos     int
		op      string
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		for _, candidate := range relationalOrder {
			if strings.HasPrefix(s[i:], candidate) {
				found++
				pos, op = i, candidate
				i += len(candidate) - 1
				break
			}
		}
	}
	if found != 1 {
		return "", "", "", false
	}
	return s[:pos], op, s[pos+len(op):], true
}

// ToBool coerces an evaluated value: bools as is, numbers when non-zero,
// strings "true"/"false"; everything else is false.
func ToBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(strings.TrimSpace(val), "true")
	}
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	return false
}

// ToFloat reports v as float64 when it is a Go numeric type.
func ToFloat(v any) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	}
	return 0, false
}

func operandText(v any) string {
	if s, ok := v.(string); ok {
		if u, err := strconv.Unquote(strings.TrimSpace(s)); err == nil {
			return u
		}
		return strings.TrimSpace(s)
	}
	return formatDisplay(v)
}

// formatOperand renders a variable value for re-parsing: strings and times
// are double-quoted.
func formatOperand(v any) string {
	switch val := v.(type) {
	case nil:
		return `""`
	case string:
		return strconv.Quote(val)
	case time.Time:
		return strconv.Quote(val.UTC().Format(time.RFC3339))
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return formatDisplay(val)
	default:
		return strconv.Quote(formatDisplay(val))
	}
}

// formatCELOperand is formatOperand with floats always carrying a decimal
// point, so 3.0 stays a CEL double.
func formatCELOperand(v any) string {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	default:
		return formatOperand(v)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return formatDisplay(f)
	}
	text := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(text, ".") {
		text += ".0"
	}
	return text
}

func formatDisplay(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return cast.ToString(val)
	}
}
