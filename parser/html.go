package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser extracts readable text from HTML, splitting sections at h1-h6.
type HTMLParser struct{}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html", "htm"} }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening HTML: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return parseHTMLDocument(doc), nil
}

func parseHTMLDocument(doc *goquery.Document) *ParseResult {
	doc.Find("script, style, noscript, nav, footer, header, svg").Remove()

	meta := map[string]string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var sections []Section
	var content strings.Builder
	heading, level := "", 0
	flush := func() {
		if content.Len() == 0 {
			return
		}
		sections = append(sections, Section{Heading: heading, Content: strings.TrimSpace(content.String()), Level: level})
		content.Reset()
	}

	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Text of nested blocks is collected from the innermost element only.
		if s.Find("p, li, pre, blockquote").Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		name := goquery.NodeName(s)
		if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
			flush()
			heading, level = text, int(name[1]-'0')
			return
		}
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(text)
	})
	flush()

	if len(sections) == 0 {
		if text := strings.Join(strings.Fields(root.Text()), " "); text != "" {
			sections = append(sections, Section{Content: text})
		}
	}
	return &ParseResult{Sections: sections, Metadata: meta}
}
