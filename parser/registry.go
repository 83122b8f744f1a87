package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Registry maps lowercase file extensions (without the dot) to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with every built-in parser.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &DOCXParser{}, &XLSXParser{}, &TextParser{}, &HTMLParser{}, &JSONParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Formats lists the registered formats.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	return out
}

// ParseFile picks a parser by the extension of path and runs it.
func (r *Registry) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	p, err := r.Get(ext)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, path)
}
