package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/martinemde/synapse/unifiedllm"
)

// ToolFunc executes a tool with decoded arguments. The returned value must be
// JSON-serializable.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDescriptor describes a tool to the model.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// Definition converts the descriptor into the SDK's ToolDefinition.
func (d ToolDescriptor) Definition() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters.JSONSchema(),
	}
}

// ToolBinding pairs a descriptor with its executable.
type ToolBinding struct {
	Descriptor ToolDescriptor
	Execute    ToolFunc

	schema *jsonschema.Schema
}

// ValidateArgs checks args against the descriptor's parameter schema. The
// registry never calls it; executables that want validation call it
// themselves.
func (b *ToolBinding) ValidateArgs(args map[string]any) error {
	if b.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := b.schema.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", b.Descriptor.Name, err)
	}
	return nil
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const maxToolNameLen = 64

// ToolRegistry maps tool names to bindings. It is built once at startup and
// only read afterwards; reads are safe from multiple sessions.
type ToolRegistry struct {
	tools map[string]*ToolBinding
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*ToolBinding),
	}
}

// Register adds a tool. Duplicate names return ErrDuplicateTool.
func (r *ToolRegistry) Register(desc ToolDescriptor, fn ToolFunc) error {
	if desc.Name == "" {
		return errors.New("register tool: name is required")
	}
	if len(desc.Name) > maxToolNameLen || !toolNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("register tool: invalid name %q", desc.Name)
	}
	if fn == nil {
		return fmt.Errorf("register tool %s: executable is nil", desc.Name)
	}
	desc.Parameters = desc.Parameters.Clone()
	if desc.Parameters.Properties == nil {
		desc.Parameters.Properties = map[string]ParameterProperty{}
	}
	schema, err := compileSchema(desc.Parameters)
	if err != nil {
		return fmt.Errorf("register tool %s: schema: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("register tool %s: %w", desc.Name, ErrDuplicateTool)
	}
	r.tools[desc.Name] = &ToolBinding{Descriptor: desc, Execute: fn, schema: schema}
	r.order = append(r.order, desc.Name)
	return nil
}

// MustRegister is Register for static tool tables; it panics on error.
func (r *ToolRegistry) MustRegister(desc ToolDescriptor, fn ToolFunc) {
	if err := r.Register(desc, fn); err != nil {
		panic(err)
	}
}

// Resolve returns the binding for name.
func (r *ToolRegistry) Resolve(name string) (*ToolBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.tools[name]
	return b, ok
}

// Schemas returns copies of all descriptors in registration order.
func (r *ToolRegistry) Schemas() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name].Descriptor
		d.Parameters = d.Parameters.Clone()
		out = append(out, d)
	}
	return out
}

// Definitions returns SDK tool definitions in registration order.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	schemas := r.Schemas()
	defs := make([]unifiedllm.ToolDefinition, len(schemas))
	for i, d := range schemas {
		defs[i] = d.Definition()
	}
	return defs
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// DecodeArguments unmarshals a model's raw argument payload into a map. An
// empty payload decodes to an empty map.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// StringArg extracts a string argument.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NumberArg extracts a numeric argument. JSON numbers decode as float64.
func NumberArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
