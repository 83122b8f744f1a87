//go:build cgo

package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"), 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestMigrationsApplied(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != migrations[len(migrations)-1].version {
		t.Fatalf("schema version = %d, want %d", v, migrations[len(migrations)-1].version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertCases(ctx, []Case{sampleCase("RE", "good")}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath, 4)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	cases, err := s.LoadCases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case after reopen, got %d", len(cases))
	}
}

// ---------------------------------------------------------------------------
// Cases
// ---------------------------------------------------------------------------

func sampleCase(task, outcome string) Case {
	return Case{
		Task:      task,
		Outcome:   outcome,
		EmbedKey:  "**Text**: Guinea is a country in West Africa.",
		StrKey:    `{"relation_list":["capital"]}`,
		Content:   "**Analysis**: Conakry is the capital of Guinea.",
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
	}
}

func TestInsertAndLoadCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	noVec := sampleCase("NER", "bad")
	noVec.Embedding = nil
	ids, err := s.InsertCases(ctx, []Case{sampleCase("RE", "good"), noVec})
	if err != nil {
		t.Fatalf("InsertCases: %v", err)
	}
	if len(ids) != 2 || ids[0] >= ids[1] {
		t.Fatalf("unexpected ids %v", ids)
	}

	cases, err := s.LoadCases(ctx)
	if err != nil {
		t.Fatalf("LoadCases: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	if cases[0].Task != "RE" || cases[0].Outcome != "good" {
		t.Fatalf("first case = %+v", cases[0])
	}
	if len(cases[0].Embedding) != 4 || cases[0].Embedding[3] != 0.4 {
		t.Fatalf("embedding not round-tripped: %v", cases[0].Embedding)
	}
	if cases[1].Embedding != nil {
		t.Fatalf("expected no embedding for second case, got %v", cases[1].Embedding)
	}
}

func TestInsertCaseWrongDimensionSkipsVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := sampleCase("RE", "good")
	c.Embedding = []float32{1, 2}
	if _, err := s.InsertCases(ctx, []Case{c}); err != nil {
		t.Fatalf("InsertCases: %v", err)
	}
	cases, err := s.LoadCases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 1 || cases[0].Embedding != nil {
		t.Fatalf("expected case without vector, got %+v", cases)
	}
}

func TestInsertCaseRejectsUnknownOutcome(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.InsertCases(context.Background(), []Case{sampleCase("RE", "neutral")}); err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
	cases, _ := s.LoadCases(context.Background())
	if len(cases) != 0 {
		t.Fatalf("failed transaction left %d rows", len(cases))
	}
}

func TestSetCaseEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := sampleCase("EE", "good")
	c.Embedding = nil
	ids, err := s.InsertCases(ctx, []Case{c})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetCaseEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("SetCaseEmbedding: %v", err)
	}
	if err := s.SetCaseEmbedding(ctx, ids[0], []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("replacing embedding: %v", err)
	}
	if err := s.SetCaseEmbedding(ctx, ids[0], []float32{1}); err == nil {
		t.Fatal("expected dimension error")
	}

	cases, err := s.LoadCases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 1 || len(cases[0].Embedding) != 4 || cases[0].Embedding[1] != 1 {
		t.Fatalf("unexpected cases %+v", cases)
	}
}

func TestCaseCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.InsertCases(ctx, []Case{
		sampleCase("RE", "good"),
		sampleCase("RE", "good"),
		sampleCase("RE", "bad"),
		sampleCase("NER", "good"),
	})
	if err != nil {
		t.Fatal(err)
	}

	counts, err := s.CaseCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []BucketCount{
		{Task: "NER", Outcome: "good", Count: 1},
		{Task: "RE", Outcome: "bad", Count: 1},
		{Task: "RE", Outcome: "good", Count: 2},
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v", counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestSearchCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	other := sampleCase("NER", "good")
	other.Content = "**Analysis**: Marie Curie was a physicist."
	other.StrKey = `{"entity_types":["person"]}`
	if _, err := s.InsertCases(ctx, []Case{sampleCase("RE", "good"), other}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchCases(ctx, "capital (Guinea)?", "", 5)
	if err != nil {
		t.Fatalf("SearchCases: %v", err)
	}
	if len(got) != 1 || got[0].Task != "RE" {
		t.Fatalf("unexpected search result %+v", got)
	}

	got, err = s.SearchCases(ctx, "physicist", "RE", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("task filter ignored: %+v", got)
	}

	got, err = s.SearchCases(ctx, "*** ---", "", 5)
	if err != nil || got != nil {
		t.Fatalf("punctuation-only query = %v, %v", got, err)
	}
}

func TestSearchCaseVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	far := sampleCase("NER", "good")
	far.Embedding = []float32{-0.4, -0.3, -0.2, -0.1}
	if _, err := s.InsertCases(ctx, []Case{far, sampleCase("RE", "bad")}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchCaseVectors(ctx, []float32{0.1, 0.2, 0.3, 0.4}, "", 5)
	if err != nil {
		t.Fatalf("SearchCaseVectors: %v", err)
	}
	if len(got) != 2 || got[0].Task != "RE" {
		t.Fatalf("nearest case should be RE, got %+v", got)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores not descending: %v, %v", got[0].Score, got[1].Score)
	}

	got, err = s.SearchCaseVectors(ctx, []float32{0.1, 0.2, 0.3, 0.4}, "NER", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Task != "NER" {
		t.Fatalf("task filter ignored: %+v", got)
	}

	if _, err := s.SearchCaseVectors(ctx, []float32{1}, "", 5); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"capital of Guinea", `"capital" OR "of" OR "Guinea"`},
		{`"quoted" AND (x)`, `"quoted" OR "AND"`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Graph
// ---------------------------------------------------------------------------

func TestUpsertEntityIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertEntity(ctx, Entity{Name: "Guinea", EntityType: "country"})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.UpsertEntity(ctx, Entity{Name: "Guinea", EntityType: "country", Description: "West Africa"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %d and %d", id1, id2)
	}

	ents, err := s.GetEntitiesByNames(ctx, []string{"Guinea", "Mali"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 || ents[0].Description != "West Africa" {
		t.Fatalf("unexpected entities %+v", ents)
	}
}

func TestUpsertTriple(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	head := Entity{Name: "Guinea", EntityType: "entity"}
	tail := Entity{Name: "Conakry", EntityType: "entity"}
	id1, err := s.UpsertTriple(ctx, head, tail, "capital", "x1")
	if err != nil {
		t.Fatalf("UpsertTriple: %v", err)
	}
	id2, err := s.UpsertTriple(ctx, head, tail, "capital", "x2")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("repeated triple created new row: %d vs %d", id1, id2)
	}

	rels, err := s.AllRelationships(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].Weight != 2 || rels[0].ExtractionID != "x2" {
		t.Fatalf("unexpected relationships %+v", rels)
	}
	ents, err := s.AllEntities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(ents))
	}
}

// ---------------------------------------------------------------------------
// Extraction log
// ---------------------------------------------------------------------------

func TestLogAndGetExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	x := Extraction{
		ID:          "abc",
		Task:        "RE",
		Mode:        "quick",
		Instruction: "extract relations",
		Prediction:  json.RawMessage(`{"relation_list":[]}`),
		Trajectory:  json.RawMessage(`[{"method":"get_retrieved_schema"}]`),
		Warnings:    []string{"chunk 1: empty response"},
		Chunks:      2,
		LLMCalls:    3,
		DurationMs:  42,
	}
	if err := s.LogExtraction(ctx, x); err != nil {
		t.Fatalf("LogExtraction: %v", err)
	}

	got, err := s.GetExtraction(ctx, "abc")
	if err != nil {
		t.Fatalf("GetExtraction: %v", err)
	}
	if got.Task != "RE" || got.Chunks != 2 || got.LLMCalls != 3 || got.DurationMs != 42 {
		t.Fatalf("unexpected extraction %+v", got)
	}
	if string(got.Prediction) != `{"relation_list":[]}` {
		t.Fatalf("prediction = %s", got.Prediction)
	}
	if len(got.Warnings) != 1 {
		t.Fatalf("warnings = %v", got.Warnings)
	}

	if _, err := s.GetExtraction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDBStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertCases(ctx, []Case{sampleCase("RE", "good")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertTriple(ctx, Entity{Name: "a", EntityType: "entity"}, Entity{Name: "b", EntityType: "entity"}, "r", ""); err != nil {
		t.Fatal(err)
	}

	st, err := s.DBStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Cases != 1 || st.Embeddings != 1 || st.Entities != 2 || st.Relationships != 1 || st.Extractions != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	in := []float32{0.5, -1, 3.25, 0}
	out := deserializeFloat32(serializeFloat32(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, in[i], out[i])
		}
	}
}
