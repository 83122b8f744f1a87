// Package chunker splits input text and documents into chunks that fit the
// extraction prompt budget.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/goextract/parser"
)

// DefaultTokenLimit is the chunk budget in whitespace-separated words.
const DefaultTokenLimit = 1024

// Config controls the chunking behaviour.
type Config struct {
	// TokenLimit is the maximum number of words per chunk. A single sentence
	// longer than the limit becomes a chunk of its own.
	TokenLimit int
}

// Chunker packs sentences into chunks.
type Chunker struct {
	cfg      Config
	registry *parser.Registry
}

// New returns a Chunker. A nil registry means parser.NewRegistry().
func New(cfg Config, registry *parser.Registry) *Chunker {
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = DefaultTokenLimit
	}
	if registry == nil {
		registry = parser.NewRegistry()
	}
	return &Chunker{cfg: cfg, registry: registry}
}

// TokenLimit returns the configured chunk budget.
func (c *Chunker) TokenLimit() int { return c.cfg.TokenLimit }

// ChunkText splits text into sentences and greedily packs consecutive
// sentences, joined by single spaces, while the word count stays within the
// limit. Empty text yields no chunks.
func (c *Chunker) ChunkText(text string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	for _, para := range splitParagraphs(text) {
		for _, sent := range splitSentences(para) {
			n := len(strings.Fields(sent))
			if currentLen+n <= c.cfg.TokenLimit {
				current = append(current, sent)
				currentLen += n
				continue
			}
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
			}
			current = []string{sent}
			currentLen = n
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// ChunkFile parses the file at path with the parser registered for its
// extension and chunks the resulting text.
func (c *Chunker) ChunkFile(ctx context.Context, path string) ([]string, error) {
	res, err := c.registry.ParseFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	chunks := c.ChunkText(res.Text())
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text found in %s", path)
	}
	slog.Debug("chunker: file chunked", "path", path, "sections", len(res.Sections), "chunks", len(chunks))
	return chunks, nil
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser. It splits on
// period/question-mark/exclamation followed by whitespace or end of string,
// and never inside common abbreviations such as "e.g." or "Dr.".
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		r := runes[i]
		if r != '.' && r != '?' && r != '!' && r != '。' {
			continue
		}
		atBoundary := i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' || r == '。'
		if !atBoundary || (r == '.' && endsWithAbbreviation(cur.String())) {
			continue
		}
		if s := normalizeSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}
	if s := normalizeSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

var abbreviations = map[string]bool{
	"e.g.": true, "i.e.": true, "etc.": true, "vs.": true, "mr.": true, "mrs.": true,
	"ms.": true, "dr.": true, "prof.": true, "st.": true, "no.": true, "fig.": true,
	"inc.": true, "ltd.": true, "jr.": true, "sr.": true, "u.s.": true,
}

func endsWithAbbreviation(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	last = strings.TrimLeft(last, "(\"'")
	return abbreviations[last]
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
