// Package schema describes extraction output schemas. A Definition renders
// as JSON-Schema format instructions for prompts and as Go struct source for
// display, and can be recovered from Go source or a JSON skeleton produced
// by a model.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/brunobiangulo/goextract/result"
)

var (
	ErrInvalidDefinition = errors.New("schema: invalid definition")
	ErrTargetNotFound    = errors.New("schema: ExtractionTarget not found")
	ErrNoCode            = errors.New("schema: no code block")
	ErrNotSkeleton       = errors.New("schema: no JSON object")
)

// Field types, named as in JSON Schema.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

var validTypes = map[string]bool{
	TypeString: true, TypeInteger: true, TypeNumber: true,
	TypeBoolean: true, TypeArray: true, TypeObject: true,
}

// Field is one property of an object.
type Field struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	// Items describes array elements.
	Items *Field `json:"items,omitempty" yaml:"items,omitempty"`
	// Fields describes object properties. An object without fields is a
	// free-form mapping.
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	// TypeName names the Go struct generated for an object field.
	TypeName string `json:"type_name,omitempty" yaml:"type_name,omitempty"`
}

// Definition is a named root object.
type Definition struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// Validate checks names and types recursively.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: %s has no fields", ErrInvalidDefinition, d.Name)
	}
	for _, f := range d.Fields {
		if err := f.validate(d.Name); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) validate(path string) error {
	if f.Name == "" {
		return fmt.Errorf("%w: %s has a field without a name", ErrInvalidDefinition, path)
	}
	path += "." + f.Name
	if !validTypes[f.Type] {
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidDefinition, path, f.Type)
	}
	if f.Type == TypeArray && f.Items != nil {
		items := *f.Items
		if items.Name == "" {
			items.Name = "items"
		}
		if err := items.validate(path); err != nil {
			return err
		}
	}
	for _, sub := range f.Fields {
		if err := sub.validate(path); err != nil {
			return err
		}
	}
	return nil
}

// JSONSchema returns the definition as a JSON Schema object.
func (d Definition) JSONSchema() map[string]any {
	s := objectSchema(d.Fields)
	s["title"] = d.Name
	if d.Description != "" {
		s["description"] = d.Description
	}
	return s
}

func objectSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := []any{}
	for _, f := range fields {
		props[f.Name] = f.jsonSchema()
		if !f.Optional {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       TypeObject,
		"properties": props,
		"required":   required,
	}
}

func (f Field) jsonSchema() map[string]any {
	var s map[string]any
	switch f.Type {
	case TypeObject:
		if len(f.Fields) > 0 {
			s = objectSchema(f.Fields)
		} else {
			s = map[string]any{"type": TypeObject}
		}
	case TypeArray:
		s = map[string]any{"type": TypeArray}
		if f.Items != nil {
			s["items"] = f.Items.jsonSchema()
		}
	default:
		s = map[string]any{"type": f.Type}
	}
	if f.Description != "" {
		s["description"] = f.Description
	}
	return s
}

const formatExample = `For example, for the schema {"properties": {"foo": {"title": "Foo", "description": "a list of strings", "type": "array", "items": {"type": "string"}}}}, the object {"foo": ["bar", "baz"]} is a well-formatted instance.`

// FormatInstructions is the schema text placed in prompts: the JSON Schema
// followed by a short example of a conforming instance.
func (d Definition) FormatInstructions() string {
	return "```\n" + result.Marshal(d.JSONSchema()) + "\n```\n\n" + formatExample
}

// GoSource renders the definition as Go struct declarations, nested types
// first and the root type last.
func (d Definition) GoSource() string {
	var decls []string
	seen := map[string]bool{}
	root := renderStruct(d.Name, d.Description, d.Fields, &decls, seen)
	decls = append(decls, root)
	return strings.Join(decls, "\n\n")
}

func renderStruct(name, desc string, fields []Field, decls *[]string, seen map[string]bool) string {
	seen[name] = true
	var b strings.Builder
	if desc != "" {
		fmt.Fprintf(&b, "// %s: %s\n", name, desc)
	}
	fmt.Fprintf(&b, "type %s struct {\n", name)
	for _, f := range fields {
		goType := goTypeOf(f, decls, seen)
		fmt.Fprintf(&b, "\t%s %s `json:\"%s\"`", exportedName(f.Name), goType, f.Name)
		if f.Description != "" {
			fmt.Fprintf(&b, " // %s", f.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

func goTypeOf(f Field, decls *[]string, seen map[string]bool) string {
	var t string
	switch f.Type {
	case TypeString:
		t = "string"
	case TypeInteger:
		t = "int"
	case TypeNumber:
		t = "float64"
	case TypeBoolean:
		t = "bool"
	case TypeArray:
		if f.Items == nil {
			t = "[]any"
			break
		}
		items := *f.Items
		if items.Type == TypeObject && items.TypeName == "" {
			items.TypeName = singular(exportedName(f.Name))
		}
		t = "[]" + goTypeOf(items, decls, seen)
	case TypeObject:
		if len(f.Fields) == 0 {
			t = "map[string]any"
			break
		}
		name := f.TypeName
		if name == "" {
			name = exportedName(f.Name)
		}
		if !seen[name] {
			decl := renderStruct(name, "", f.Fields, decls, seen)
			*decls = append(*decls, decl)
		}
		t = name
	default:
		t = "any"
	}
	if f.Optional && f.Type != TypeArray && !(f.Type == TypeObject && len(f.Fields) == 0) {
		t = "*" + t
	}
	return t
}

// exportedName turns snake_case into an exported Go identifier.
func exportedName(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "F" + out
	}
	return out
}

// snakeName turns a Go identifier into snake_case.
func snakeName(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "List"):
		return strings.TrimSuffix(s, "List")
	case strings.HasSuffix(s, "ies"):
		return strings.TrimSuffix(s, "ies") + "y"
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return strings.TrimSuffix(s, "s")
	}
	return s + "Item"
}

// sortedNames returns the keys of m in order.
func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
