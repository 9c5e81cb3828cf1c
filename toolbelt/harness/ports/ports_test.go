package harnessports

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorKind_Retryable checks the retry classes: network transients retry,
// everything else does not.
func TestErrorKind_Retryable(t *testing.T) {
	retryable := []ErrorKind{KindEngineUnavailable, KindTimeout, KindUnreachableHost}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "kind %s", k)
	}

	terminal := []ErrorKind{
		KindNotAllowed, KindDenied, KindMalformed,
		KindNotFound, KindAlreadyExists, KindTooLarge,
		KindUnknownTool, KindInvalidArguments, KindInternal,
	}
	for _, k := range terminal {
		assert.False(t, k.Retryable(), "kind %s", k)
	}
}

// TestErrf checks that Errf formats the message and derives Retryable from
// the kind.
func TestErrf(t *testing.T) {
	err := Errf(KindTimeout, "request to %s timed out", "example.com")
	assert.Equal(t, KindTimeout, err.Kind)
	assert.Equal(t, "request to example.com timed out", err.Message)
	assert.True(t, err.Retryable)
	assert.Equal(t, "timeout: request to example.com timed out", err.Error())

	err = Errf(KindNotFound, "no such file")
	assert.False(t, err.Retryable)
}

// TestToolSpec_JSONSchema checks the rendered schema shape: declared types,
// enums, defaults, and required parameters in declaration order.
func TestToolSpec_JSONSchema(t *testing.T) {
	spec := ToolSpec{
		Name:        "demo",
		Description: "demo tool",
		Parameters: []Parameter{
			{Name: "operation", Type: "string", Required: true, Enum: []string{"read", "write"}},
			{Name: "path", Type: "string", Description: "target path", Required: true},
			{Name: "overwrite", Type: "boolean", Default: false},
		},
	}

	var doc struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(spec.JSONSchema(), &doc))

	assert.Equal(t, "object", doc.Type)
	assert.Len(t, doc.Properties, 3)
	assert.Equal(t, "string", doc.Properties["operation"]["type"])
	assert.ElementsMatch(t, []any{"read", "write"}, doc.Properties["operation"]["enum"])
	assert.Equal(t, "target path", doc.Properties["path"]["description"])
	assert.Equal(t, false, doc.Properties["overwrite"]["default"])
	assert.Equal(t, []string{"operation", "path"}, doc.Required)
}

// TestToolSpec_JSONSchemaDeterministic checks that repeated renders produce
// identical bytes, so schemas can be hashed or cached safely.
func TestToolSpec_JSONSchemaDeterministic(t *testing.T) {
	spec := ToolSpec{
		Name: "demo",
		Parameters: []Parameter{
			{Name: "zeta", Type: "string", Required: true},
			{Name: "alpha", Type: "integer"},
			{Name: "mid", Type: "boolean"},
		},
	}

	first := spec.JSONSchema()
	for i := 0; i < 20; i++ {
		assert.Equal(t, string(first), string(spec.JSONSchema()))
	}
}

// TestToolSpec_JSONSchemaNoRequired checks that a spec with only optional
// parameters omits the required list entirely.
func TestToolSpec_JSONSchemaNoRequired(t *testing.T) {
	spec := ToolSpec{
		Name:       "demo",
		Parameters: []Parameter{{Name: "hint", Type: "string"}},
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal(spec.JSONSchema(), &doc))
	_, hasRequired := doc["required"]
	assert.False(t, hasRequired)
}

// TestToolError_JSONShape checks the wire form consumed by calling loops.
func TestToolError_JSONShape(t *testing.T) {
	data, err := json.Marshal(Errf(KindDenied, "host is blocked"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"denied","message":"host is blocked"}`, string(data))

	data, err = json.Marshal(Errf(KindTimeout, "late"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"timeout","message":"late","retryable":true}`, string(data))
}
