package result

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	spaceAroundPunct = regexp.MustCompile(`\s*([,:().;'_-])\s*`)
	repeatedComma    = regexp.MustCompile(`,+`)
	repeatedPeriod   = regexp.MustCompile(`\.+`)
	repeatedSemi     = regexp.MustCompile(`;+`)
)

// FormatString canonicalizes a string for loose comparison: whitespace is
// collapsed, spaces around punctuation dropped, case folded, braces removed
// and repeated separators squeezed.
func FormatString(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = spaceAroundPunct.ReplaceAllString(s, "$1")
	s = strings.ToLower(s)
	s = strings.NewReplacer("{", "", "}", "", "’", "'").Replace(s)
	s = repeatedComma.ReplaceAllString(s, ",")
	s = repeatedPeriod.ReplaceAllString(s, ".")
	s = repeatedSemi.ReplaceAllString(s, ";")
	return s
}

// Canonical returns a key that is equal for two values exactly when they are
// structurally equal after normalization. Objects compare as sets of
// key/value pairs, lists as multisets, strings through FormatString.
//
// The comparison is heuristic: short strings that differ only in case or
// punctuation spacing compare equal.
func Canonical(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case Result:
		writeCanonical(b, t.Value())
	case map[string]any:
		parts := make([]string, 0, len(t))
		for k, child := range t {
			parts = append(parts, strconv.Quote(k)+":"+Canonical(child))
		}
		sort.Strings(parts)
		b.WriteString("{" + strings.Join(parts, ",") + "}")
	case []any:
		parts := make([]string, len(t))
		for i, child := range t {
			parts[i] = Canonical(child)
		}
		sort.Strings(parts)
		b.WriteString("[" + strings.Join(parts, ",") + "]")
	case string:
		b.WriteString(strconv.Quote(FormatString(t)))
	case json.Number:
		b.WriteString(canonicalNumber(t.String()))
	case float64:
		b.WriteString(canonicalNumber(strconv.FormatFloat(t, 'g', -1, 64)))
	case int:
		b.WriteString(strconv.Itoa(t))
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case nil:
		b.WriteString("null")
	default:
		b.WriteString(strconv.Quote(FormatString(fmt.Sprint(t))))
	}
}

func canonicalNumber(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return s
}

// Equal reports whether a and b are equal under Canonical.
func Equal(a, b any) bool {
	return Canonical(a) == Canonical(b)
}

// Vote picks one result per position from parallel candidate lists.
// For every index it returns the first candidate that at least two
// candidates agree with under Canonical. When no two agree it returns the
// candidate with the largest serialized size, preferring structured results,
// and flags the index. Failed candidates abstain: a single surviving
// candidate is kept unflagged, and an index where every call failed is
// flagged.
func Vote(candidates ...[]Result) (chosen []Result, flagged []int) {
	if len(candidates) == 0 {
		return nil, nil
	}
	n := len(candidates[0])
	for _, c := range candidates[1:] {
		if len(c) < n {
			n = len(c)
		}
	}
	chosen = make([]Result, n)
	for i := 0; i < n; i++ {
		var live []Result
		counts := make(map[string]int, len(candidates))
		for _, c := range candidates {
			if c[i].IsFailed() {
				continue
			}
			live = append(live, c[i])
			counts[Canonical(c[i])]++
		}
		switch {
		case len(live) == 0:
			chosen[i] = candidates[0][i]
			flagged = append(flagged, i)
			continue
		case len(live) == 1:
			chosen[i] = live[0]
			continue
		}
		picked := -1
		for j, r := range live {
			if counts[Canonical(r)] >= 2 {
				picked = j
				break
			}
		}
		if picked < 0 {
			picked = Largest(live)
			flagged = append(flagged, i)
		}
		chosen[i] = live[picked]
	}
	return chosen, flagged
}

// Largest returns the index of the result with the largest serialized size.
// Structured results win over raw ones.
func Largest(rs []Result) int {
	best := -1
	for i, r := range rs {
		if best < 0 {
			best = i
			continue
		}
		b := rs[best]
		if r.IsStructured() != b.IsStructured() {
			if r.IsStructured() {
				best = i
			}
			continue
		}
		if r.Size() > b.Size() {
			best = i
		}
	}
	return best
}
