package harnessports

import (
	"context"
	"encoding/json"
	"time"
)

// Parameter describes one tool argument as advertised to the model.
type Parameter struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean", "array", "object"
	Description string
	Required    bool
	Default     any
	Enum        []string
}

// ToolSpec is the immutable descriptor a tool exposes for function calling.
// Parameters keep declaration order so the exported schema is stable across
// calls.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// JSONSchema renders the parameter list as a JSON Schema document. The output is
// deterministic: properties marshal in sorted key order and the required
// list keeps declaration order. Extra argument keys are tolerated; only the
// declared types and required flags are enforced at dispatch time.
func (s ToolSpec) JSONSchema() []byte {
	properties := make(map[string]map[string]any, len(s.Parameters))
	required := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	b, err := json.Marshal(doc)
	if err != nil {
		// The document is built from plain maps and strings; this cannot
		// fail for a well-formed spec.
		return []byte(`{"type":"object"}`)
	}
	return b
}

// ToolCallRequest is one model-emitted tool invocation. CallID correlates
// the request to its result within a multi-call turn; when empty the
// dispatcher assigns one.
type ToolCallRequest struct {
	CallID string         `json:"call_id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
}

// ToolCallResult is the single outcome of a dispatched call. Exactly one of
// Output or Error is meaningful, selected by Success.
type ToolCallResult struct {
	CallID  string        `json:"call_id"`
	Success bool          `json:"success"`
	Output  any           `json:"output,omitempty"`
	Error   *ToolError    `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Tool is the capability surface the dispatcher executes against. Invoke
// receives arguments already validated against the tool's spec; errors it
// returns are classified by the dispatcher, never propagated raw.
type Tool interface {
	Name() string
	Spec() ToolSpec
	Invoke(ctx context.Context, args map[string]any) (any, error)
}
