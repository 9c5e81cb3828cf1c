package harness

import (
	"errors"
	"fmt"
	"sync"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

var (
	// ErrDuplicateTool reports a second registration under the same name.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool reports a lookup for a name nobody registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// Registry owns the set of available tools. Lookup is by exact name; List
// preserves registration order so the exported schema is stable across
// calls.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ports.Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ports.Tool)}
}

// Register adds a tool under its own name.
func (r *Registry) Register(tool ports.Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get resolves a name to its handler.
func (r *Registry) Get(name string) (ports.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns every registered spec in registration order, for export to
// the model-facing layer.
func (r *Registry) List() []ports.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ports.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}
