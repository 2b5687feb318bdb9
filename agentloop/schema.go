package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TypeTag is the parameter type vocabulary shared with Gemini function
// declarations.
type TypeTag string

const (
	TypeNumber  TypeTag = "NUMBER"
	TypeInteger TypeTag = "INTEGER"
	TypeString  TypeTag = "STRING"
	TypeBoolean TypeTag = "BOOLEAN"
	TypeObject  TypeTag = "OBJECT"
	TypeArray   TypeTag = "ARRAY"
)

// Valid reports whether t is one of the known tags.
func (t TypeTag) Valid() bool {
	switch t {
	case TypeNumber, TypeInteger, TypeString, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// ParameterProperty describes one named argument of a tool.
type ParameterProperty struct {
	Type        TypeTag            `json:"type"`
	Description string             `json:"description,omitempty"`
	Items       *ParameterProperty `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// ParameterSchema is the object schema of a tool's arguments.
type ParameterSchema struct {
	Properties map[string]ParameterProperty `json:"properties"`
	Required   []string                     `json:"required,omitempty"`

	order []string
}

// Clone returns a deep copy of s.
func (s ParameterSchema) Clone() ParameterSchema {
	out := ParameterSchema{
		Required: append([]string(nil), s.Required...),
		order:    append([]string(nil), s.order...),
	}
	if s.Properties != nil {
		out.Properties = make(map[string]ParameterProperty, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = p.clone()
		}
	}
	return out
}

func (p ParameterProperty) clone() ParameterProperty {
	p.Enum = append([]string(nil), p.Enum...)
	if p.Items != nil {
		items := p.Items.clone()
		p.Items = &items
	}
	return p
}

// NamedProperty pairs a property with its argument name for NewParameterSchema.
type NamedProperty struct {
	Name string
	ParameterProperty
}

// Property is shorthand for a NamedProperty with a type and description.
func Property(name string, typ TypeTag, description string) NamedProperty {
	return NamedProperty{Name: name, ParameterProperty: ParameterProperty{Type: typ, Description: description}}
}

// NewParameterSchema builds a schema from props, preserving their order.
func NewParameterSchema(required []string, props ...NamedProperty) ParameterSchema {
	s := ParameterSchema{
		Properties: make(map[string]ParameterProperty, len(props)),
		Required:   append([]string(nil), required...),
	}
	for _, p := range props {
		if _, dup := s.Properties[p.Name]; !dup {
			s.order = append(s.order, p.Name)
		}
		s.Properties[p.Name] = p.ParameterProperty
	}
	return s
}

// PropertyNames returns property names in declaration order. Schemas built
// without NewParameterSchema fall back to map order.
func (s ParameterSchema) PropertyNames() []string {
	if len(s.order) == len(s.Properties) {
		return append([]string(nil), s.order...)
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	return names
}

// JSONSchema renders the schema as a lowercase-typed JSON Schema object.
func (s ParameterSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	return out
}

func (p ParameterProperty) jsonSchema() map[string]any {
	out := map[string]any{"type": strings.ToLower(string(p.Type))}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	if len(p.Enum) > 0 {
		out["enum"] = append([]string(nil), p.Enum...)
	}
	return out
}

// validate checks tags and required names before compilation.
func (s ParameterSchema) validate() error {
	for name, p := range s.Properties {
		if err := p.validate(); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	for _, r := range s.Required {
		if _, ok := s.Properties[r]; !ok {
			return fmt.Errorf("required property %q is not declared", r)
		}
	}
	return nil
}

func (p ParameterProperty) validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("unknown type tag %q", p.Type)
	}
	if p.Items != nil {
		return p.Items.validate()
	}
	return nil
}

// compileSchema compiles a ParameterSchema into a JSON Schema validator.
func compileSchema(s ParameterSchema) (*jsonschema.Schema, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
