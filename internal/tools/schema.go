package tools

import "encoding/json"

// param is one property of a tool's JSON schema.
type param struct {
	name   string
	schema map[string]any
}

func stringParam(name, description string) param {
	return param{name, map[string]any{"type": "string", "description": description}}
}

func intParam(name, description string) param {
	return param{name, map[string]any{"type": "integer", "description": description}}
}

func boolParam(name, description string) param {
	return param{name, map[string]any{"type": "boolean", "description": description}}
}

// objectSchema builds a closed object schema. Required names must also
// appear in params.
func objectSchema(required []string, params ...param) map[string]any {
	props := make(map[string]any, len(params))
	for _, p := range params {
		props[p.name] = p.schema
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// peekArgs decodes args for previews and confirmations, where malformed
// input just means there is nothing to show.
func peekArgs[T any](args json.RawMessage) (T, bool) {
	var v T
	err := json.Unmarshal(args, &v)
	return v, err == nil
}
