package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the text layer of a PDF page by page.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var sections []Section
	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages without an extractable text layer are skipped.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, splitPage(text, i)...)
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no extractable text in PDF %s", path)
	}
	return &ParseResult{
		Sections: sections,
		Metadata: map[string]string{"pages": fmt.Sprintf("%d", totalPages)},
	}, nil
}

// splitPage breaks page text into sections at lines that look like headings.
func splitPage(text string, pageNum int) []Section {
	var sections []Section
	var content strings.Builder
	heading, level := "", 0

	flush := func() {
		if content.Len() == 0 {
			return
		}
		sections = append(sections, Section{
			Heading:    heading,
			Content:    strings.TrimSpace(content.String()),
			Level:      level,
			PageNumber: pageNum,
		})
		content.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading, level = trimmed, headingLevel(trimmed)
			continue
		}
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(trimmed)
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, Section{Content: text, PageNumber: pageNum})
	}
	return sections
}

func isLikelyHeading(line string) bool {
	if len(line) > 2 && len(line) < 100 && line == strings.ToUpper(line) && strings.ToLower(line) != line {
		return true
	}
	if len(line) >= 120 {
		return false
	}
	// Numbered sections: "1.", "2.3", "4.1.2 Scope"
	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "article ", "chapter ", "part "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func headingLevel(heading string) int {
	first, _, _ := strings.Cut(heading, " ")
	if first[0] >= '0' && first[0] <= '9' {
		return strings.Count(strings.TrimSuffix(first, "."), ".") + 1
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}
