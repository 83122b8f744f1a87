// Package result holds the value an extraction step produces and the
// permissive parsing that turns raw model output into it.
package result

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags which variant a Result holds.
type Kind int

const (
	// KindRaw is model output that could not be parsed as a JSON object.
	KindRaw Kind = iota
	// KindStructured is a parsed JSON object.
	KindStructured
)

func (k Kind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "raw"
}

// Result is either a structured JSON object or the raw text a model returned.
// Callers branch on Kind instead of guessing at the shape.
type Result struct {
	Kind Kind
	Data map[string]any
	Text string

	failed bool
}

// Structured wraps a parsed object.
func Structured(m map[string]any) Result {
	if m == nil {
		m = map[string]any{}
	}
	return Result{Kind: KindStructured, Data: m}
}

// Raw wraps unparsed text.
func Raw(s string) Result {
	return Result{Kind: KindRaw, Text: s}
}

// Failed is the placeholder for a model call that returned no answer. It
// renders as empty raw text and abstains in Vote.
func Failed() Result {
	return Result{Kind: KindRaw, failed: true}
}

// IsFailed reports whether r stands for a failed model call.
func (r Result) IsFailed() bool { return r.failed }

// IsStructured reports whether r holds a parsed object.
func (r Result) IsStructured() bool { return r.Kind == KindStructured }

// IsZero reports whether r carries nothing: an empty object or empty text.
func (r Result) IsZero() bool {
	if r.IsStructured() {
		return len(r.Data) == 0
	}
	return r.Text == ""
}

// Value returns the underlying value: the map for structured results, the
// string otherwise.
func (r Result) Value() any {
	if r.IsStructured() {
		return r.Data
	}
	return r.Text
}

// String renders r the way it is embedded into prompts and case records:
// compact JSON for objects, the text itself otherwise.
func (r Result) String() string {
	if !r.IsStructured() {
		return r.Text
	}
	b, err := marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(b)
}

// Size is the length of the serialized form of r.
func (r Result) Size() int {
	b, err := marshal(r.Value())
	if err != nil {
		return len(r.String())
	}
	return len(b)
}

// MarshalJSON encodes structured results as objects and raw results as
// JSON strings.
func (r Result) MarshalJSON() ([]byte, error) {
	return marshal(r.Value())
}

// UnmarshalJSON accepts either an object or a string.
func (r *Result) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		m, err := decodeObject(b)
		if err != nil {
			return err
		}
		*r = Structured(m)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("result: expected object or string: %w", err)
	}
	*r = Raw(s)
	return nil
}

// marshal encodes v without HTML escaping so prompts keep <, > and & intact.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Marshal is the JSON encoding used across the module for prompt and case
// text. It leaves non-ASCII and HTML characters unescaped.
func Marshal(v any) string {
	if r, ok := v.(Result); ok {
		v = r.Value()
	}
	b, err := marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// MarshalIndent is Marshal with two-space indentation.
func MarshalIndent(v any) string {
	if r, ok := v.(Result); ok {
		v = r.Value()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("result: trailing data after object")
	}
	return m, nil
}
