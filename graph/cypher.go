package graph

import (
	"fmt"
	"strings"
	"unicode"
)

// Cypher renders triples as MERGE statements for a property graph
// database. Entity types become node labels and relations become
// relationship types, both reduced to identifier characters.
func Cypher(triples []Triple) []string {
	out := make([]string, 0, len(triples))
	for _, t := range triples {
		out = append(out, fmt.Sprintf(
			"MERGE (h:%s {name: %s}) MERGE (t:%s {name: %s}) MERGE (h)-[r:%s]->(t) ON CREATE SET r.weight = 1 ON MATCH SET r.weight = r.weight + 1;",
			label(t.HeadType, "Entity"), quote(t.Head),
			label(t.TailType, "Entity"), quote(t.Tail),
			relType(t.Relation),
		))
	}
	return out
}

// label turns "country capital" into CountryCapital.
func label(s, fallback string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			b.WriteRune(r)
		default:
			upper = true
		}
	}
	out := b.String()
	if out == "" || unicode.IsDigit([]rune(out)[0]) {
		return fallback + out
	}
	return out
}

// relType turns "capital of" into CAPITAL_OF.
func relType(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToUpper(r))
			sep = false
			continue
		}
		sep = true
	}
	if b.Len() == 0 {
		return "RELATED_TO"
	}
	return b.String()
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
