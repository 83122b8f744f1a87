package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/goextract"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/task"
)

func TestExtractRequest(t *testing.T) {
	f := &extractFlags{
		task:       "re",
		text:       "The capital of Guinea is Conakry.",
		constraint: `["capital"]`,
		mode:       goextract.ModeQuick,
		updateCase: true,
		truth:      `{"relation_list": []}`,
	}
	req, err := f.request(strings.NewReader(""), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Task != task.RE || req.Constraint != `["capital"]` || req.Truth != `{"relation_list": []}` {
		t.Errorf("req = %+v", req)
	}
	if req.Custom != nil || req.ConfirmTruth != nil {
		t.Errorf("unexpected custom mode or truth prompt: %+v", req)
	}
}

func TestExtractRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		f    extractFlags
	}{
		{"unknown task", extractFlags{task: "SUMMARY", text: "x"}},
		{"no input", extractFlags{task: "NER"}},
		{"agents without customized", extractFlags{task: "NER", text: "x", mode: "quick", schemaAgent: "get_default_schema"}},
		{"interactive without update", extractFlags{task: "NER", text: "x", interactiveTruth: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.f.request(strings.NewReader(""), &bytes.Buffer{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestExtractRequestCustomized(t *testing.T) {
	f := &extractFlags{task: "NER", text: "x", mode: goextract.ModeCustomized, extractionAgent: "extract_information_with_case"}
	req, err := f.request(strings.NewReader(""), &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if req.Custom == nil || req.Custom.Extraction != goextract.MethodExtractWithCase || req.Custom.Schema != "" {
		t.Errorf("custom = %+v", req.Custom)
	}
}

func TestPromptTruth(t *testing.T) {
	pred := result.Structured(map[string]any{"entity_list": []any{}})
	ctx := context.Background()

	var out bytes.Buffer
	got, err := promptTruth(strings.NewReader("\n"), &out)(ctx, pred)
	if err != nil || !result.Equal(got.Value(), pred.Value()) {
		t.Errorf("empty line = %v, %v; want the prediction", got, err)
	}
	if !strings.Contains(out.String(), "entity_list") {
		t.Errorf("prediction not shown: %s", out.String())
	}

	got, err = promptTruth(strings.NewReader("not json\n{\"entity_list\": [{\"name\": \"Kenya\"}]}\n"), &out)(ctx, pred)
	if err != nil {
		t.Fatal(err)
	}
	if list, _ := got.Data["entity_list"].([]any); len(list) != 1 {
		t.Errorf("truth = %v", got)
	}
}

func TestSchemasCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "goextract.yaml")
	err := os.WriteFile(cfgPath, []byte("case_store: memory\nembedding:\n  provider: hash\nembedding_dim: 16\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"schemas", "--config", cfgPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("schemas: %v", err)
	}
	for _, want := range []string{"EntityList", "RelationList", "modes: customized, quick, standard"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"schemas", "--config", cfgPath, "--show", "RelationList"})
	if err := root.Execute(); err != nil {
		t.Fatalf("schemas --show: %v", err)
	}
	if !strings.Contains(out.String(), "type RelationList struct") {
		t.Errorf("Go source missing:\n%s", out.String())
	}
}

func TestGraphNeedsDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "goextract.yaml")
	if err := os.WriteFile(cfgPath, []byte("case_store: memory\nembedding:\n  provider: hash\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"graph", "cypher", "--config", cfgPath})
	if err := root.Execute(); err != errNoGraph {
		t.Errorf("err = %v, want errNoGraph", err)
	}
}
