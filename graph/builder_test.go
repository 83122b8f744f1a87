//go:build cgo

package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/store"
	"github.com/brunobiangulo/goextract/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildUpsertsAndWeights(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)
	ctx := context.Background()

	triples := []Triple{
		{Head: "guinea", HeadType: "country", Relation: "capital", Tail: "conakry", TailType: "city"},
		{Head: "senegal", HeadType: "country", Relation: "capital", Tail: "dakar", TailType: "city"},
	}
	n, err := b.Build(ctx, "req-1", triples)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
	if _, err := b.Build(ctx, "req-2", triples[:1]); err != nil {
		t.Fatalf("second Build: %v", err)
	}

	ents, err := s.AllEntities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 4 {
		t.Errorf("entities = %d, want 4", len(ents))
	}
	rels, err := s.AllRelationships(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 2 {
		t.Fatalf("relationships = %d, want 2", len(rels))
	}
	weights := map[float64]int{}
	for _, r := range rels {
		weights[r.Weight]++
	}
	if weights[2] != 1 || weights[1] != 1 {
		t.Errorf("weights = %v, want one edge at 2 and one at 1", weights)
	}
}

func TestBuildEmpty(t *testing.T) {
	n, err := NewBuilder(newTestStore(t)).Build(context.Background(), "req", nil)
	if err != nil || n != 0 {
		t.Errorf("Build(nil) = %d, %v", n, err)
	}
}

func TestTraverse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pred := result.Structured(map[string]any{"relation_list": []any{
		map[string]any{"head": "Guinea", "relation": "capital", "tail": "Conakry"},
		map[string]any{"head": "Guinea", "relation": "borders", "tail": "Senegal"},
		map[string]any{"head": "Senegal", "relation": "capital", "tail": "Dakar"},
		map[string]any{"head": "France", "relation": "capital", "tail": "Paris"},
	}})
	if _, err := NewBuilder(s).Build(ctx, "req", TriplesFrom(task.RE, pred)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		depth     int
		wantEnts  int
		wantEdges int
	}{
		{0, 1, 0},
		{1, 3, 2},
		{2, 4, 3},
	}
	for _, tt := range tests {
		res, err := Traverse(ctx, s, []string{"GUINEA"}, tt.depth)
		if err != nil {
			t.Fatalf("depth %d: %v", tt.depth, err)
		}
		if len(res.Entities) != tt.wantEnts || len(res.Edges) != tt.wantEdges {
			t.Errorf("depth %d: entities = %v, edges = %v", tt.depth, res.Entities, res.Edges)
		}
	}

	res, err := Traverse(ctx, s, []string{"atlantis"}, 3)
	if err != nil || len(res.Entities) != 0 {
		t.Errorf("unknown seed = %+v, %v", res, err)
	}
}

func TestExportFeedsCypher(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	triples := []Triple{
		{Head: "senegal", HeadType: "country", Relation: "capital", Tail: "dakar", TailType: "city"},
		{Head: "guinea", HeadType: "country", Relation: "capital", Tail: "conakry", TailType: "city"},
	}
	if _, err := NewBuilder(s).Build(ctx, "req", triples); err != nil {
		t.Fatal(err)
	}

	got, err := Export(ctx, s)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(got) != 2 || got[0] != triples[1] || got[1] != triples[0] {
		t.Fatalf("Export = %+v", got)
	}
	stmts := Cypher(got)
	if len(stmts) != 2 || stmts[0] != "MERGE (h:Country {name: 'guinea'}) MERGE (t:City {name: 'conakry'}) MERGE (h)-[r:CAPITAL]->(t) ON CREATE SET r.weight = 1 ON MATCH SET r.weight = r.weight + 1;" {
		t.Errorf("Cypher = %v", stmts)
	}
}
