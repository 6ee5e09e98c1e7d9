package validation

import (
	"github.com/rendis/rigflow/pkg/schema"
)

const (
	draft2020   = "https://json-schema.org/draft/2020-12/schema"
	documentURL = "https://rigflow.dev/schemas/workflow.json"
)

type object = map[string]any

var (
	str       = object{"type": "string"}
	nonEmpty  = object{"type": "string", "minLength": 1}
	boolean   = object{"type": "boolean"}
	number    = object{"type": "number"}
	millis    = object{"type": "integer", "minimum": 0}
	positive  = object{"type": "integer", "minimum": 1}
	stepList  = object{"type": "array", "items": object{"$ref": "#/$defs/step"}}
	a1Address = object{"type": "string", "pattern": `^\$?[A-Za-z]{1,3}\$?[1-9][0-9]{0,6}$`}
)

func params(required []string, props object) object {
	out := object{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func enum[T ~string](values ...T) object {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return object{"type": "string", "enum": out}
}

// parameterDefs holds the canonical parameter shape of every step type.
// Unknown keys are tolerated so older documents still validate.
var parameterDefs = map[schema.StepType]object{
	schema.StepTypeDelay: params(nil, object{
		"duration_ms":         millis,
		"duration_expression": str,
	}),
	schema.StepTypeVariableAssign: params([]string{"target"}, object{
		"target": nonEmpty,
		"source": enum(
			schema.AssignSourceLiteral, schema.AssignSourceExpression, schema.AssignSourceVariable,
			schema.AssignSourcePLC, schema.AssignSourceCell, schema.AssignSourceQuery,
		),
		"value":           object{},
		"expression":      str,
		"source_variable": str,
		"module":          str,
		"tag":             str,
		"sheet":           str,
		"address":         str,
		"query":           str,
		"variable_type": enum(
			schema.VariableTypeString, schema.VariableTypeInteger, schema.VariableTypeDouble,
			schema.VariableTypeBoolean, schema.VariableTypeDateTime, schema.VariableTypeObject,
		),
	}),
	schema.StepTypeCondition: params(nil, object{
		"expression":  str,
		"left":        str,
		"operator":    enum("==", "!=", ">", "<", ">=", "<="),
		"right":       str,
		"true_steps":  stepList,
		"false_steps": stepList,
		"true_goto":   positive,
		"false_goto":  positive,
	}),
	schema.StepTypeLoop: params(nil, object{
		"count":            millis,
		"count_expression": str,
		"counter_variable": str,
		"exit_condition":   str,
		"body":             stepList,
	}),
	schema.StepTypeBreak:    params(nil, object{}),
	schema.StepTypeContinue: params(nil, object{}),
	schema.StepTypePLCRead: params([]string{"module", "tag", "target_variable"}, object{
		"module":          nonEmpty,
		"tag":             nonEmpty,
		"target_variable": nonEmpty,
	}),
	schema.StepTypePLCWrite: params([]string{"module", "tag", "value"}, object{
		"module": nonEmpty,
		"tag":    nonEmpty,
		"value":  nonEmpty,
	}),
	schema.StepTypeReadCell: params([]string{"sheet", "address", "target_variable"}, object{
		"sheet":           nonEmpty,
		"address":         a1Address,
		"target_variable": nonEmpty,
	}),
	schema.StepTypeWriteCell: params([]string{"sheet", "address", "value"}, object{
		"sheet":   nonEmpty,
		"address": a1Address,
		"value":   nonEmpty,
	}),
	schema.StepTypeMessage: params([]string{"text"}, object{
		"text":            nonEmpty,
		"level":           enum(schema.MessageLevelInfo, schema.MessageLevelWarning, schema.MessageLevelError),
		"confirm":         boolean,
		"result_variable": str,
	}),
	schema.StepTypeWaitStable: params([]string{"expression", "timeout_ms"}, object{
		"expression":      nonEmpty,
		"tolerance":       object{"type": "number", "minimum": 0},
		"stable_ms":       millis,
		"interval_ms":     millis,
		"timeout_ms":      positive,
		"target_variable": str,
	}),
	schema.StepTypeDetection: func() object {
		d := params(nil, object{
			"expression":      str,
			"lower":           number,
			"upper":           number,
			"condition":       str,
			"interval_ms":     millis,
			"timeout_ms":      millis,
			"result_variable": str,
		})
		d["anyOf"] = []any{
			object{"required": []string{"expression"}},
			object{"required": []string{"condition"}},
		}
		return d
	}(),
	schema.StepTypeMonitor: params([]string{"condition", "timeout_ms"}, object{
		"condition":   nonEmpty,
		"mode":        enum(schema.MonitorUntil, schema.MonitorWhile),
		"interval_ms": millis,
		"timeout_ms":  positive,
	}),
}

// stepDef describes one step in any of the accepted shapes. Parameter
// checks apply only to the canonical "type" + "params" form.
func stepDef() object {
	types := schema.KnownStepTypes()
	branches := make([]any, 0, len(types))
	for _, t := range types {
		branches = append(branches, object{
			"if": object{
				"required":   []string{"type", "params"},
				"properties": object{"type": object{"const": string(t)}},
			},
			"then": object{
				"properties": object{"params": object{"$ref": "#/$defs/" + string(t)}},
			},
		})
	}

	return object{
		"type": "object",
		"anyOf": []any{
			object{"required": []string{"type"}},
			object{"required": []string{"StepType"}},
			object{"required": []string{"StepName"}},
			object{"required": []string{"step_type"}},
			object{"required": []string{"stepType"}},
		},
		"properties": object{
			"id":      str,
			"number":  millis,
			"type":    enum(types...),
			"params":  object{"type": "object"},
			"remark":  str,
			"enabled": boolean,
			"status": enum(
				schema.StepStatusPending, schema.StepStatusRunning, schema.StepStatusSucceeded,
				schema.StepStatusFailed, schema.StepStatusSkipped,
			),
			"error": str,
		},
		"allOf": branches,
	}
}

func defs() object {
	out := object{"step": stepDef()}
	for t, def := range parameterDefs {
		out[string(t)] = def
	}
	return out
}

// documentSchema is the schema of a workflow file or payload.
func documentSchema() object {
	return object{
		"$schema": draft2020,
		"$id":     documentURL,
		"type":    "object",
		"required": []string{
			"steps",
		},
		"properties": object{
			"id":          str,
			"name":        str,
			"description": str,
			"steps":       stepList,
			"created_at":  str,
			"updated_at":  str,
		},
		"$defs": defs(),
	}
}

// parameterSchema is a standalone schema for one step type's parameters.
func parameterSchema(t schema.StepType) (object, bool) {
	def, ok := parameterDefs[t]
	if !ok {
		return nil, false
	}
	out := object{
		"$schema": draft2020,
		"$id":     "https://rigflow.dev/schemas/params/" + string(t) + ".json",
		"title":   string(t),
		"$defs":   defs(),
	}
	for k, v := range def {
		out[k] = v
	}
	return out, true
}
