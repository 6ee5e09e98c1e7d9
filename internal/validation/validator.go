// Package validation checks workflow documents and step parameters against
// JSON Schema (draft 2020-12) before they are decoded into the schema types.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/rigflow/pkg/schema"
)

// Validator holds the compiled document schema and one compiled schema per
// step type. It is safe for concurrent use.
type Validator struct {
	document *jsonschema.Schema
	params   map[schema.StepType]*jsonschema.Schema
	raw      map[schema.StepType]json.RawMessage
}

// New compiles every schema.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	if err := addResource(c, documentURL, documentSchema()); err != nil {
		return nil, err
	}
	doc, err := c.Compile(documentURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	v := &Validator{
		document: doc,
		params:   make(map[schema.StepType]*jsonschema.Schema, len(parameterDefs)),
		raw:      make(map[schema.StepType]json.RawMessage, len(parameterDefs)),
	}
	for _, t := range schema.KnownStepTypes() {
		ps, _ := parameterSchema(t)
		raw, err := json.Marshal(ps)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", t, err)
		}
		url := ps["$id"].(string)
		if err := addResource(c, url, ps); err != nil {
			return nil, err
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t, err)
		}
		v.params[t] = compiled
		v.raw[t] = raw
	}
	return v, nil
}

// ValidateDocument validates a JSON workflow document.
func (v *Validator) ValidateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow document is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.document.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateValue validates an already decoded document, e.g. one read from YAML.
func (v *Validator) ValidateValue(value any) error {
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document cannot be encoded as JSON").WithCause(err)
	}
	if err := v.document.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateParameters validates one step's parameter payload, either raw
// JSON or a Go value that encodes to JSON.
func (v *Validator) ValidateParameters(t schema.StepType, params any) error {
	compiled, ok := v.params[t]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown step type %q", string(t))
	}
	var doc any
	var err error
	if raw, isRaw := params.(json.RawMessage); isRaw {
		doc, err = jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	} else {
		doc, err = toJSONValue(params)
	}
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s parameters cannot be read: %s", t, err.Error()).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ParameterSchema returns the JSON Schema of a step type's parameters.
func (v *Validator) ParameterSchema(t schema.StepType) (json.RawMessage, error) {
	raw, ok := v.raw[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no parameter schema for step type %q", string(t))
	}
	return append(json.RawMessage(nil), raw...), nil
}

func addResource(c *jsonschema.Compiler, url string, doc object) error {
	value, err := toJSONValue(doc)
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", url, err)
	}
	if err := c.AddResource(url, value); err != nil {
		return fmt.Errorf("add schema resource %s: %w", url, err)
	}
	return nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toSchemaError flattens a jsonschema.ValidationError into a VALIDATION_ERROR
// whose details list every leaf violation.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "document has %d problems: %s",
			len(violations), strings.Join(violations, "; ")).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
