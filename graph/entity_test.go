package graph

import (
	"reflect"
	"strings"
	"testing"

	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/task"
)

func TestTriplesFrom(t *testing.T) {
	re := result.Structured(map[string]any{"relation_list": []any{
		map[string]any{"head": " Guinea ", "relation": "Capital", "tail": "Conakry"},
		map[string]any{"head": "Mali", "relation": "capital"},
		"not an object",
	}})
	got := TriplesFrom(task.RE, re)
	want := []Triple{{Head: "guinea", HeadType: EntityUnknown, Relation: "capital", Tail: "conakry", TailType: EntityUnknown}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RE triples = %+v, want %+v", got, want)
	}

	tr := result.Structured(map[string]any{"triple_list": []any{
		map[string]any{"head": "Ada", "head_type": "Person", "relation": "born in", "tail": "London", "tail_type": "City"},
	}})
	got = TriplesFrom(task.Triple, tr)
	if len(got) != 1 || got[0].HeadType != "person" || got[0].TailType != "city" {
		t.Errorf("Triple triples = %+v", got)
	}

	if got := TriplesFrom(task.NER, tr); got != nil {
		t.Errorf("NER triples = %+v", got)
	}
	if got := TriplesFrom(task.RE, result.Raw("{}")); got != nil {
		t.Errorf("raw triples = %+v", got)
	}
}

func TestCypher(t *testing.T) {
	stmts := Cypher([]Triple{
		{Head: "guinea", HeadType: "country", Relation: "capital of", Tail: "o'conakry", TailType: "1st city"},
	})
	if len(stmts) != 1 {
		t.Fatalf("statements = %d", len(stmts))
	}
	s := stmts[0]
	for _, want := range []string{
		"MERGE (h:Country {name: 'guinea'})",
		`MERGE (t:Entity1stCity {name: 'o\'conakry'})`,
		"-[r:CAPITAL_OF]->",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in %s", want, s)
		}
	}
}

func TestCypherNames(t *testing.T) {
	if got := label("", "Entity"); got != "Entity" {
		t.Errorf("label = %q", got)
	}
	if got := label("country capital", "Entity"); got != "CountryCapital" {
		t.Errorf("label = %q", got)
	}
	if got := relType("--"); got != "RELATED_TO" {
		t.Errorf("relType = %q", got)
	}
	if got := relType("is part-of"); got != "IS_PART_OF" {
		t.Errorf("relType = %q", got)
	}
}
