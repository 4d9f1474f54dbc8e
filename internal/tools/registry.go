package tools

import (
	"context"
	"fmt"
	"sync"
)

// Visibility controls who may supply a parameter value.
type Visibility string

const (
	// VisibilityUserOrLLM params can come from block config or from the model.
	VisibilityUserOrLLM Visibility = "user-or-llm"
	// VisibilityUserOnly params come from block config and are hidden from the model.
	VisibilityUserOnly Visibility = "user-only"
	// VisibilityLLMOnly params are filled exclusively by the model.
	VisibilityLLMOnly Visibility = "llm-only"
	// VisibilityHidden params are internal defaults, invisible to both.
	VisibilityHidden Visibility = "hidden"
)

// Param describes one tool parameter.
type Param struct {
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Visibility  Visibility `json:"visibility,omitempty"`
	Default     any        `json:"default,omitempty"`
}

// ExecuteFunc is the function signature for tool execution
type ExecuteFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool represents a callable tool with its metadata and execution function
type Tool struct {
	ID          string
	Name        string // user-friendly name shown in logs
	Description string
	Params      map[string]Param
	Execute     ExecuteFunc
	// TransformError maps a raw execution error to the message surfaced to
	// callers and fed back to the model. Optional.
	TransformError func(err error) string
}

// Registry manages all available tools
type Registry struct {
	tools map[string]*Tool
	mutex sync.RWMutex
}

var (
	globalRegistry *Registry
	once           sync.Once
)

// GetRegistry returns the global tool registry (singleton)
func GetRegistry() *Registry {
	once.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// NewRegistry builds a registry with the built-in tools registered.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	registerBuiltInTools(r)
	return r
}

// Register adds a new tool to the registry
func (r *Registry) Register(tool *Tool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if tool.ID == "" {
		return fmt.Errorf("tool id cannot be empty")
	}

	if tool.Execute == nil {
		return fmt.Errorf("tool %s must have an Execute function", tool.ID)
	}

	if _, exists := r.tools[tool.ID]; exists {
		return fmt.Errorf("tool %s is already registered", tool.ID)
	}

	r.tools[tool.ID] = tool
	return nil
}

// Get retrieves a tool by id
func (r *Registry) Get(id string) (*Tool, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	tool, exists := r.tools[id]
	return tool, exists
}

// ResolveOperation maps a block's tool selection to a concrete tool id.
// Multi-operation blocks store a base id plus an "operation" param; the
// concrete tool is registered as "<base>_<operation>". Single-operation
// blocks resolve to the base id directly.
func (r *Registry) ResolveOperation(baseID string, params map[string]any) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if op, ok := params["operation"].(string); ok && op != "" {
		candidate := baseID + "_" + op
		if _, exists := r.tools[candidate]; exists {
			return candidate, nil
		}
	}
	if _, exists := r.tools[baseID]; exists {
		return baseID, nil
	}
	return "", fmt.Errorf("tool %s not found", baseID)
}

// Execute runs a tool by id. Defaults for hidden params are applied, args
// override them, and the tool's error transform (when present) rewrites
// failures into a caller-facing message.
func (r *Registry) Execute(ctx context.Context, id string, args map[string]any) (map[string]any, error) {
	tool, exists := r.Get(id)
	if !exists {
		return nil, fmt.Errorf("tool %s not found", id)
	}

	merged := make(map[string]any, len(args))
	for name, p := range tool.Params {
		if p.Default != nil {
			merged[name] = p.Default
		}
	}
	for k, v := range args {
		merged[k] = v
	}

	for name, p := range tool.Params {
		if p.Required {
			if v, ok := merged[name]; !ok || v == nil || v == "" {
				return nil, fmt.Errorf("tool %s: missing required parameter %q", id, name)
			}
		}
	}

	out, err := tool.Execute(ctx, merged)
	if err != nil {
		if tool.TransformError != nil {
			return nil, fmt.Errorf("%s", tool.TransformError(err))
		}
		return nil, err
	}
	return out, nil
}

// LLMSchema returns the tool's parameters as a JSON schema object containing
// only model-visible params. User-supplied values for user-or-llm params are
// excluded so the model cannot override them.
func (t *Tool) LLMSchema(userProvided map[string]any) map[string]any {
	properties := make(map[string]any)
	var required []string

	for name, p := range t.Params {
		switch p.Visibility {
		case VisibilityUserOnly, VisibilityHidden:
			continue
		case VisibilityUserOrLLM:
			if _, set := userProvided[name]; set {
				continue
			}
		}
		properties[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.tools)
}

// ToolInfo is a JSON-serializable representation of a Tool (without the Execute function)
type ToolInfo struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Params      map[string]Param `json:"params"`
}

// ListDetailed returns all tools with full metadata (for the block palette API)
func (r *Registry) ListDetailed() []ToolInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]ToolInfo, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, ToolInfo{
			ID:          tool.ID,
			Name:        tool.Name,
			Description: tool.Description,
			Params:      tool.Params,
		})
	}
	return result
}

// registerBuiltInTools registers the default tools
func registerBuiltInTools(r *Registry) {
	_ = r.Register(NewTimeTool())
	_ = r.Register(NewMathTool())
	_ = r.Register(NewHTTPRequestTool())
}
