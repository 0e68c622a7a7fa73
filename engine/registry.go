package engine

import (
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/grace/core"
)

// ToolRegistry holds the tools exposed to the model, in registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]core.Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]core.Tool)}
}

// Register adds tools. A tool with an existing name replaces the old one.
func (r *ToolRegistry) Register(tools ...core.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; !exists {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (core.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ToAPITools converts the registry to Claude tool parameters.
func (r *ToolRegistry) ToAPITools() []anthropic.ToolUnionParam {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]anthropic.ToolUnionParam, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema := t.Schema()
		required, _ := schema["required"].([]string)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name(),
				Description: anthropic.String(t.Description()),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   required,
				},
			},
		})
	}
	return out
}
