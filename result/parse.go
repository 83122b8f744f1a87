package result

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse turns a model reply into a Result. It takes the last balanced
// {...} span in text, normalizes single-quoted strings, and decodes it as a
// JSON object with empty values stripped. Anything that does not decode is
// returned unchanged as Raw.
func Parse(text string) Result {
	m, ok := ParseObject(text)
	if !ok {
		return Raw(text)
	}
	stripped, _ := StripEmpty(m).(map[string]any)
	return Structured(stripped)
}

// ParseObject is Parse without empty-value stripping. It reports false when
// text holds no decodable object.
func ParseObject(text string) (map[string]any, bool) {
	candidate, ok := LastObject(text)
	if !ok {
		return nil, false
	}
	m, err := decodeObject([]byte(NormalizeQuotes(candidate)))
	if err != nil {
		// Some replies are already valid JSON with apostrophes in values that
		// the quote rewrite would break.
		if m, err = decodeObject([]byte(candidate)); err != nil {
			return nil, false
		}
	}
	return m, true
}

// LastObject returns the last top-level balanced-brace span in text.
// Braces inside double-quoted strings do not count.
func LastObject(text string) (string, bool) {
	var (
		last     string
		found    bool
		inString bool
		escaped  bool
	)
	depth, start := 0, -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				last, found = text[start:i+1], true
			}
		}
	}
	return last, found
}

// NormalizeQuotes replaces every single quote that is not flanked by word
// characters on both sides with a double quote, so {'a': 'it's'} becomes
// {"a": "it's"}.
func NormalizeQuotes(s string) string {
	if !strings.ContainsRune(s, '\'') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := rune(-1)
	for i, r := range s {
		if r != '\'' {
			b.WriteRune(r)
			prev = r
			continue
		}
		next, _ := utf8.DecodeRuneInString(s[i+1:])
		if i+1 >= len(s) {
			next = -1
		}
		if isWord(prev) && isWord(next) {
			b.WriteRune(r)
		} else {
			b.WriteByte('"')
		}
		prev = r
	}
	return b.String()
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// StripEmpty removes nil, "", empty slices and empty maps from v, recursively.
// Children are stripped before their own emptiness is tested, so a map whose
// only values were empty disappears in the same pass and
// StripEmpty(StripEmpty(v)) equals StripEmpty(v).
func StripEmpty(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			child = StripEmpty(child)
			if !IsEmpty(child) {
				out[k] = child
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, child := range t {
			child = StripEmpty(child)
			if !IsEmpty(child) {
				out = append(out, child)
			}
		}
		return out
	default:
		return v
	}
}

// IsEmpty reports whether v is nil, "", an empty slice or an empty map.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
