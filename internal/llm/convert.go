package llm

import (
	"encoding/json"
	"strings"
)

// textOf concatenates the text parts of a message.
func textOf(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// pick returns requested unless it is the zero value.
func pick[T comparable](requested, fallback T) T {
	var zero T
	if requested != zero {
		return requested
	}
	return fallback
}

// requiredFields reads a JSON schema's "required" list, which may have been
// built in Go ([]string) or decoded from JSON ([]any).
func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

func argsOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// argsMap decodes tool arguments for SDKs that want a map. Arguments that
// are not a JSON object are passed through under "_raw".
func argsMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"_raw": string(raw)}
	}
	return args
}
