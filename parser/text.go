package parser

import (
	"context"
	"fmt"
	"os"
)

// TextParser handles plain text and Markdown files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	if len(data) == 0 {
		return &ParseResult{}, nil
	}
	return &ParseResult{Sections: []Section{{Content: string(data), Level: 1}}}, nil
}
