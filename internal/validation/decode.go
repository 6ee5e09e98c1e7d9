package validation

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rendis/rigflow/pkg/schema"
)

// DecodeWorkflow reads a YAML or JSON workflow document, validates it and
// decodes it. Missing IDs and timestamps are filled in and steps are
// renumbered in list order.
func (v *Validator) DecodeWorkflow(data []byte) (*schema.Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow document cannot be parsed: %s", err.Error()).WithCause(err)
	}
	doc, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateValue(doc); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode workflow: %w", err)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(raw, wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode workflow: %s", err.Error()).WithCause(err)
	}

	fresh := schema.NewWorkflow(wf.Name)
	if wf.ID == "" {
		wf.ID = fresh.ID
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = fresh.CreatedAt
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = fresh.UpdatedAt
	}
	wf.Renumber()
	return wf, nil
}

// normalizeYAML converts map[any]any nodes, which YAML allows, into the
// string-keyed maps JSON needs.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "document key %v is not a string", k)
			}
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		for i, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
