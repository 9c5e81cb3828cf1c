package harness

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// Guardrails validates tool calls before they reach a handler: an optional
// allowlist plus JSON-schema validation of the arguments against the tool's
// declared parameters. A call that fails here never invokes the handler.
type Guardrails struct {
	allowlist     map[string]bool // empty means every registered tool is allowed
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails. An empty allowlist admits every
// registered tool; a non-empty one is exhaustive.
func NewGuardrails(allowedTools ...string) *Guardrails {
	g := &Guardrails{
		allowlist:     make(map[string]bool),
		jsonValidator: NewJSONValidator(),
	}
	for _, name := range allowedTools {
		g.allowlist[name] = true
	}
	return g
}

// AddAllowedTool adds a tool to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

// RemoveAllowedTool removes a tool from the allowlist.
func (g *Guardrails) RemoveAllowedTool(name string) {
	delete(g.allowlist, name)
}

// ValidateCall checks the allowlist and the argument shape. A tool outside
// a non-empty allowlist reports as unknown, so disabled tools are
// indistinguishable from unregistered ones. Argument violations carry the
// validator's messages so the model can correct the call.
func (g *Guardrails) ValidateCall(spec ports.ToolSpec, req ports.ToolCallRequest) error {
	if len(g.allowlist) > 0 && !g.allowlist[req.Tool] {
		return ports.Errf(ports.KindUnknownTool, "unknown tool: %s", req.Tool)
	}

	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := g.jsonValidator.Validate(args, spec.JSONSchema()); err != nil {
		return ports.Errf(ports.KindInvalidArguments, "invalid arguments for %s: %v", req.Tool, err)
	}
	return nil
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks that the argument map conforms to the schema.
func (v *JSONValidator) Validate(args map[string]any, schema []byte) error {
	if len(schema) == 0 {
		return nil // no schema to validate against
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}
