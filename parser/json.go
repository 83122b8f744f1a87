package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// JSONParser flattens a JSON document into "path: value" lines so that the
// values can be chunked and extracted from like prose.
type JSONParser struct{}

func (p *JSONParser) SupportedFormats() []string { return []string{"json"} }

func (p *JSONParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading JSON: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	var lines []string
	flattenJSON("", v, &lines)
	if len(lines) == 0 {
		return &ParseResult{}, nil
	}
	return &ParseResult{Sections: []Section{{Content: strings.Join(lines, "\n"), Level: 1}}}, nil
}

func flattenJSON(prefix string, v any, lines *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flattenJSON(p, t[k], lines)
		}
	case []any:
		for i, e := range t {
			flattenJSON(fmt.Sprintf("%s[%d]", prefix, i), e, lines)
		}
	case nil:
	default:
		s := fmt.Sprint(t)
		if prefix == "" {
			*lines = append(*lines, s)
			return
		}
		*lines = append(*lines, prefix+": "+s)
	}
}
