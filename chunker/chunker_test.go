package chunker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/goextract/parser"
)

func TestNewDefaults(t *testing.T) {
	c := New(Config{}, nil)
	if c.TokenLimit() != DefaultTokenLimit {
		t.Fatalf("TokenLimit = %d", c.TokenLimit())
	}
}

func TestChunkTextShort(t *testing.T) {
	c := New(Config{}, nil)
	got := c.ChunkText("The capital of Guinea is Conakry.")
	if len(got) != 1 || got[0] != "The capital of Guinea is Conakry." {
		t.Fatalf("chunks = %q", got)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	c := New(Config{}, nil)
	if got := c.ChunkText("  \n\n "); len(got) != 0 {
		t.Fatalf("chunks = %q", got)
	}
}

func TestChunkTextPacksSentences(t *testing.T) {
	c := New(Config{TokenLimit: 8}, nil)
	text := "One two three four. Five six seven eight. Nine ten.\n\nEleven twelve thirteen."
	got := c.ChunkText(text)
	want := []string{
		"One two three four. Five six seven eight.",
		"Nine ten. Eleven twelve thirteen.",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
	for _, ch := range got {
		if n := len(strings.Fields(ch)); n > 8 {
			t.Errorf("chunk %q has %d words", ch, n)
		}
	}
}

func TestChunkTextLongSentenceStandsAlone(t *testing.T) {
	c := New(Config{TokenLimit: 3}, nil)
	got := c.ChunkText("Short one. This sentence is far longer than the limit. End.")
	want := []string{"Short one.", "This sentence is far longer than the limit.", "End."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"A cat. A dog? A bird!", []string{"A cat.", "A dog?", "A bird!"}},
		{"Dr. Smith met Mr. Jones, e.g. at noon. Then left.", []string{"Dr. Smith met Mr. Jones, e.g. at noon.", "Then left."}},
		{"Version 3.14 shipped. Done", []string{"Version 3.14 shipped.", "Done"}},
		{"no terminal punctuation", []string{"no terminal punctuation"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := splitSentences(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunkFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("Guinea is in West Africa. Its capital is Conakry."), 0644); err != nil {
		t.Fatal(err)
	}
	c := New(Config{TokenLimit: 5}, nil)
	got, err := c.ChunkFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != "Its capital is Conakry." {
		t.Fatalf("chunks = %q", got)
	}

	if _, err := c.ChunkFile(context.Background(), filepath.Join(dir, "deck.pptx")); !errors.Is(err, parser.ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, nil, 0644)
	if _, err := c.ChunkFile(context.Background(), empty); err == nil {
		t.Fatal("expected error for empty file")
	}
}
