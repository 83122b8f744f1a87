package schema

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/brunobiangulo/goextract/result"
)

// TargetName is the root type a deduced Go schema must declare.
const TargetName = "ExtractionTarget"

var (
	codeBlockRe = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)\\n```")
	noneRe      = regexp.MustCompile(`\bNone\b`)
)

// CodeBlock returns the last fenced code block in a model reply.
func CodeBlock(reply string) (string, bool) {
	m := codeBlockRe.FindAllStringSubmatch(reply, -1)
	if len(m) == 0 {
		return "", false
	}
	return m[len(m)-1][1], true
}

// FromGoReply extracts the last fenced code block from reply and parses it
// with FromGoSource. The returned code starts at the first type
// declaration.
func FromGoReply(reply string) (Definition, string, error) {
	code, ok := CodeBlock(reply)
	if !ok {
		return Definition{}, "", ErrNoCode
	}
	def, err := FromGoSource(code)
	if err != nil {
		return Definition{}, "", err
	}
	if i := strings.Index(code, "type "); i >= 0 {
		code = code[i:]
	}
	return def, code, nil
}

// FromGoSource parses Go struct declarations and converts the
// ExtractionTarget type, with every struct it references, into a
// Definition. A missing package clause is tolerated.
func FromGoSource(src string) (Definition, error) {
	if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
		src = "package schema\n\n" + src
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "deduced.go", src, parser.ParseComments)
	if err != nil {
		return Definition{}, fmt.Errorf("parsing schema code: %w", err)
	}

	structs := map[string]*ast.StructType{}
	docs := map[string]string{}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			st, ok := ts.Type.(*ast.StructType)
			if !ok {
				continue
			}
			structs[ts.Name.Name] = st
			doc := ts.Doc
			if doc == nil && len(gen.Specs) == 1 {
				doc = gen.Doc
			}
			docs[ts.Name.Name] = commentText(doc, ts.Name.Name)
		}
	}

	target, ok := structs[TargetName]
	if !ok {
		return Definition{}, ErrTargetNotFound
	}
	c := converter{structs: structs, visiting: map[*ast.StructType]bool{}}
	fields, err := c.fields(target, TargetName)
	if err != nil {
		return Definition{}, err
	}
	def := Definition{Name: TargetName, Description: docs[TargetName], Fields: fields}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

type converter struct {
	structs  map[string]*ast.StructType
	visiting map[*ast.StructType]bool
}

func (c converter) fields(st *ast.StructType, name string) ([]Field, error) {
	if c.visiting[st] {
		return nil, fmt.Errorf("%w: recursive type %s", ErrInvalidDefinition, name)
	}
	c.visiting[st] = true
	defer delete(c.visiting, st)

	var out []Field
	for _, f := range st.Fields.List {
		if len(f.Names) == 0 {
			continue
		}
		desc := commentText(f.Comment, "")
		if desc == "" {
			desc = commentText(f.Doc, "")
		}
		for _, ident := range f.Names {
			if !ident.IsExported() {
				continue
			}
			field, err := c.field(f.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, ident.Name, err)
			}
			field.Name = jsonName(ident.Name, f.Tag)
			if field.Name == "-" {
				continue
			}
			field.Description = desc
			out = append(out, field)
		}
	}
	return out, nil
}

func (c converter) field(expr ast.Expr) (Field, error) {
	switch t := expr.(type) {
	case *ast.StarExpr:
		f, err := c.field(t.X)
		f.Optional = true
		return f, err
	case *ast.ArrayType:
		items, err := c.field(t.Elt)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeArray, Items: &items}, nil
	case *ast.MapType, *ast.InterfaceType:
		return Field{Type: TypeObject}, nil
	case *ast.SelectorExpr:
		// time.Time and other qualified types travel as strings.
		return Field{Type: TypeString}, nil
	case *ast.StructType:
		fields, err := c.fields(t, "struct")
		return Field{Type: TypeObject, Fields: fields}, err
	case *ast.Ident:
		if st, ok := c.structs[t.Name]; ok {
			fields, err := c.fields(st, t.Name)
			return Field{Type: TypeObject, TypeName: t.Name, Fields: fields}, err
		}
		return Field{Type: basicType(t.Name)}, nil
	}
	return Field{}, fmt.Errorf("%w: unsupported type expression %T", ErrInvalidDefinition, expr)
}

func basicType(name string) string {
	switch name {
	case "bool":
		return TypeBoolean
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64":
		return TypeInteger
	case "float32", "float64":
		return TypeNumber
	case "any":
		return TypeObject
	}
	return TypeString
}

func jsonName(goName string, tag *ast.BasicLit) string {
	if tag != nil {
		if raw, err := strconv.Unquote(tag.Value); err == nil {
			if v, ok := reflect.StructTag(raw).Lookup("json"); ok {
				if name, _, _ := strings.Cut(v, ","); name != "" {
					return name
				}
			}
		}
	}
	return snakeName(goName)
}

func commentText(g *ast.CommentGroup, typeName string) string {
	if g == nil {
		return ""
	}
	text := strings.TrimSpace(g.Text())
	if typeName != "" {
		text = strings.TrimPrefix(text, typeName+":")
		text = strings.TrimPrefix(text, typeName+" ")
	}
	return strings.Join(strings.Fields(text), " ")
}

// FromSkeleton converts a JSON skeleton such as {"title": null, "authors":
// [null]} into a Definition named name. Nulls become optional strings;
// other values give their own type. The skeleton is also returned in the
// form it takes in prompts.
func FromSkeleton(name, reply string) (Definition, string, error) {
	obj, ok := result.ParseObject(reply)
	if !ok {
		obj, ok = result.ParseObject(noneRe.ReplaceAllString(reply, "null"))
	}
	if !ok || len(obj) == 0 {
		return Definition{}, "", ErrNotSkeleton
	}
	def := Definition{Name: name, Fields: skeletonFields(obj)}
	if err := def.Validate(); err != nil {
		return Definition{}, "", err
	}
	return def, result.Marshal(obj), nil
}

func skeletonFields(obj map[string]any) []Field {
	names := sortedNames(obj)
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		f := skeletonField(obj[n])
		f.Name = n
		fields = append(fields, f)
	}
	return fields
}

func skeletonField(v any) Field {
	switch x := v.(type) {
	case nil:
		return Field{Type: TypeString, Optional: true}
	case bool:
		return Field{Type: TypeBoolean}
	case string:
		return Field{Type: TypeString}
	case []any:
		items := Field{Type: TypeString}
		if len(x) > 0 {
			items = skeletonField(x[0])
			items.Optional = false
		}
		return Field{Type: TypeArray, Items: &items}
	case map[string]any:
		return Field{Type: TypeObject, Fields: skeletonFields(x)}
	default:
		if s, ok := x.(interface{ String() string }); ok {
			if _, err := strconv.ParseInt(s.String(), 10, 64); err == nil {
				return Field{Type: TypeInteger}
			}
		}
		return Field{Type: TypeNumber}
	}
}
