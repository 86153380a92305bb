// ABOUTME: Argument validation against a tool's compiled input schema.
// ABOUTME: Enforces required fields and types, ignores extra fields, fills declared defaults.

package tools

import (
	"encoding/json"
	"fmt"
)

// SchemaError reports arguments that do not satisfy a tool's input schema.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// Validate checks args against the named tool's schema and returns a normalized copy
// with defaults substituted for omitted optional properties. The input map is not
// modified. Returns ErrToolNotFound for unknown names and *SchemaError otherwise.
func (r *Registry) Validate(name string, args map[string]any) (map[string]any, error) {
	schema, ok := r.schemaFor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	normalized, err := normalize(args)
	if err != nil {
		return nil, &SchemaError{Tool: name, Reason: err.Error()}
	}

	if err := schema.Validate(normalized); err != nil {
		return nil, &SchemaError{Tool: name, Reason: err.Error()}
	}

	if err := schema.ApplyDefaults(&normalized); err != nil {
		return nil, &SchemaError{Tool: name, Reason: err.Error()}
	}

	return normalized, nil
}

// ValidateJSON is Validate for arguments that arrive as raw JSON text, which is how
// model providers deliver proposed tool calls.
func (r *Registry) ValidateJSON(name string, raw string) (map[string]any, error) {
	if !r.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, &SchemaError{Tool: name, Reason: "arguments are not a JSON object"}
		}
	}
	return r.Validate(name, args)
}

// normalize deep-copies args through JSON so in-process callers passing Go types
// ([]string, int) are validated the same way as wire callers.
func normalize(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("arguments are not JSON encodable: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
