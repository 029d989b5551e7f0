// Package gateway provides retrieval/tool gateway implementations for the
// dispatcher: an in-process tool registry with reflected parameter schemas
// and an HTTP client for remote retrieval services.
package gateway

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/aria-voice/aria-core/core/intents"
)

// Handler executes one tool call. ctx carries the dispatch budget and the
// task's cancellation; handlers must observe it.
type Handler func(ctx context.Context, slots intents.Slots) (any, error)

// Tool binds an intent to its handler. Parameters is an exemplar struct the
// slot schema is reflected from; nil means the tool takes no parameters.
type Tool struct {
	Name        string
	Description string
	Parameters  any
	Handler     Handler
}

// Definition is the advertised shape of a registered tool.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// ToolRegistry routes dispatched intents to registered tool handlers. It
// implements the dispatcher's Gateway.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	registry := &ToolRegistry{tools: map[string]Tool{}}
	for _, tool := range tools {
		registry.Register(tool)
	}
	return registry
}

// Register adds or replaces a tool under its name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Fetch routes the intent to its tool. An unregistered intent is an error;
// on the speculative path the dispatcher absorbs it as a task failure.
func (r *ToolRegistry) Fetch(ctx context.Context, intent string, slots intents.Slots) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[intent]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no tool registered for intent %q", intent)
	}
	return tool.Handler(ctx, slots)
}

// Definitions returns the advertised tool shapes, with parameter schemas
// reflected from each tool's exemplar struct.
func (r *ToolRegistry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		definitions = append(definitions, Definition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  reflectParameters(tool.Parameters),
		})
	}
	return definitions
}

func reflectParameters(parameters any) *jsonschema.Schema {
	if parameters == nil {
		return nil
	}
	reflector := jsonschema.Reflector{DoNotReference: true}
	if reflect.TypeOf(parameters).Kind() == reflect.Ptr {
		return reflector.ReflectFromType(reflect.TypeOf(parameters).Elem())
	}
	return reflector.Reflect(parameters)
}
