package task

import (
	"errors"
	"reflect"
	"testing"
)

func TestAppendTrajectoryFirstWriteWins(t *testing.T) {
	s := New(Input{Task: RE})
	if !s.AppendTrajectory("get_retrieved_schema", "first") {
		t.Fatal("first append rejected")
	}
	if s.AppendTrajectory("get_retrieved_schema", "second") {
		t.Fatal("second append accepted")
	}
	s.AppendTrajectory("extract_information_direct", []string{"r"})

	steps := s.Trajectory()
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(steps))
	}
	if steps[0].Output != "first" {
		t.Errorf("output = %v, want first", steps[0].Output)
	}
	if steps[1].Method != "extract_information_direct" {
		t.Errorf("order = %v", steps)
	}
}

func TestRequireChunks(t *testing.T) {
	s := New(Input{Task: Base, Text: "x"})
	if err := s.RequireChunks(); !errors.Is(err, ErrNoChunks) {
		t.Fatalf("err = %v, want ErrNoChunks", err)
	}
	s.SetChunks([]string{"x"})
	if err := s.RequireChunks(); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestNewAssignsIDAndSource(t *testing.T) {
	a := New(Input{Task: NER, FilePath: "doc.pdf"})
	b := New(Input{Task: NER, Text: "x"})
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q", a.ID, b.ID)
	}
	if !a.UseFile || b.UseFile {
		t.Errorf("UseFile = %v, %v", a.UseFile, b.UseFile)
	}
}

func TestParseType(t *testing.T) {
	for _, in := range []string{"re", "RE", "Re"} {
		got, err := ParseType(in)
		if err != nil || got != RE {
			t.Errorf("ParseType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseType("POS"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestNormalizeConstraint(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{"plain words", "plain words"},
		{`["country capital"]`, []any{"country capital"}},
		{[]string{"person", "city"}, []any{"person", "city"}},
		{map[string][]string{"Attack": {"attacker"}}, map[string]any{"Attack": []any{"attacker"}}},
		{[][]string{{"person"}, {}, {"city"}}, []any{[]any{"person"}, []any{}, []any{"city"}}},
	}
	for _, tt := range tests {
		got, err := NormalizeConstraint(tt.in)
		if err != nil {
			t.Fatalf("NormalizeConstraint(%v): %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizeConstraint(%#v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestConstraintText(t *testing.T) {
	s := New(Input{Task: RE, Constraint: []any{"country capital"}})
	if got := s.ConstraintText(); got != `["country capital"]` {
		t.Errorf("ConstraintText = %s", got)
	}
	if !s.HasConstraint() {
		t.Error("HasConstraint = false")
	}
	s.Constraint = []any{}
	if s.HasConstraint() {
		t.Error("empty list counted as constraint")
	}
}
