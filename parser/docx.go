package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXParser reads word/document.xml from a .docx archive. Paragraphs with a
// Heading or Title style start new sections; tables become pipe-delimited
// rows.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	sections, err := parseDocxXML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	return &ParseResult{Sections: sections}, nil
}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

// docxBody keeps paragraphs and tables in document order.
type docxBody struct {
	Items []docxBlock `xml:",any"`
}

type docxBlock struct {
	XMLName xml.Name
	PPr     *docxParaPr `xml:"pPr"`
	Runs    []docxRun   `xml:"r"`
	Rows    []docxRow   `xml:"tr"`
}

type docxParaPr struct {
	PStyle *struct {
		Val string `xml:"val,attr"`
	} `xml:"pStyle"`
}

type docxRun struct {
	Text []string `xml:"t"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxBlock `xml:"p"`
}

func paraText(p docxBlock) string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t)
		}
	}
	return strings.TrimSpace(b.String())
}

func parseDocxXML(data []byte) ([]Section, error) {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var sections []Section
	var content strings.Builder
	heading, level := "", 0
	flush := func() {
		if content.Len() == 0 && heading == "" {
			return
		}
		sections = append(sections, Section{Heading: heading, Content: strings.TrimSpace(content.String()), Level: level})
		content.Reset()
	}
	write := func(line string) {
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(line)
	}

	for _, block := range doc.Body.Items {
		switch block.XMLName.Local {
		case "p":
			text := paraText(block)
			if text == "" {
				continue
			}
			style := ""
			if block.PPr != nil && block.PPr.PStyle != nil {
				style = strings.ToLower(block.PPr.PStyle.Val)
			}
			if strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "title") {
				flush()
				heading = text
				level = 1
				if n := strings.TrimPrefix(style, "heading"); len(n) == 1 && n[0] >= '1' && n[0] <= '9' {
					level = int(n[0] - '0')
				}
				continue
			}
			write(text)
		case "tbl":
			for _, row := range block.Rows {
				cells := make([]string, len(row.Cells))
				for i, c := range row.Cells {
					var parts []string
					for _, p := range c.Paras {
						if t := paraText(p); t != "" {
							parts = append(parts, t)
						}
					}
					cells[i] = strings.Join(parts, " ")
				}
				write("| " + strings.Join(cells, " | ") + " |")
			}
		}
	}
	flush()
	return sections, nil
}
