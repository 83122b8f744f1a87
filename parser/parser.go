// Package parser turns document files into plain-text sections for
// chunking.
package parser

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions no parser handles.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section
	Metadata map[string]string
}

// Section is one logical block of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // heading depth, 1 = top
	PageNumber int
	Metadata   map[string]string
}

// Parser parses a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// Text joins every section into one string, headings on their own lines and
// sections separated by blank lines.
func (r *ParseResult) Text() string {
	var b strings.Builder
	for _, s := range r.Sections {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(s.Content))
	}
	return strings.TrimSpace(b.String())
}
