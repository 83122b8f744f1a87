package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/goextract/chunker"
	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/llm/llmtest"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/schema"
	"github.com/brunobiangulo/goextract/task"
)

func newClient(respond func(prompt string) string) (*llm.Client, *llmtest.Provider) {
	p := llmtest.New(respond)
	return llm.NewClient(p, llm.ClientConfig{Model: "test"}), p
}

func textOf(prompt string) string {
	i := strings.Index(prompt, "**Text**: ")
	if i < 0 {
		return ""
	}
	rest := prompt[i+len("**Text**: "):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func TestApplyConstraintIsIdempotent(t *testing.T) {
	tests := []struct {
		task   task.Type
		in     any
		marker string
	}{
		{task.NER, []any{"person", "location"}, nerMarker},
		{task.RE, []any{"country capital"}, reMarker},
		{task.EE, map[string]any{"Attack": []any{"attacker", "target"}}, eeMarker},
		{task.Triple, []any{[]any{"person"}, []any{"born in"}, []any{"city"}}, tripleMarker},
	}
	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			st := task.New(task.Input{Task: tt.task, Constraint: tt.in})
			ApplyConstraint(st, nil)
			once, ok := st.Constraint.(string)
			if !ok || !strings.Contains(once, tt.marker) {
				t.Fatalf("constraint = %#v, want directive with %s", st.Constraint, tt.marker)
			}
			ApplyConstraint(st, nil)
			if st.Constraint != once {
				t.Errorf("second apply changed constraint:\n%s\n---\n%s", once, st.Constraint)
			}
			if strings.Count(st.Constraint.(string), tt.marker) != 1 {
				t.Errorf("marker repeated: %s", st.Constraint)
			}
		})
	}
}

func TestNERDirectiveText(t *testing.T) {
	st := task.New(task.Input{Task: task.NER, Constraint: []any{"person"}})
	ApplyConstraint(st, nil)
	want := "\n**Entity Type Constraint**: The type of entities must be chosen from the following list.\n[\"person\"]\n"
	if st.Constraint != want {
		t.Errorf("constraint = %q, want %q", st.Constraint, want)
	}
}

func TestTripleCombinationsNameNonEmptyDimensions(t *testing.T) {
	labels := []string{"Subject Entities", "Relation type", "Object Entities"}
	values := [][]any{{"person"}, {"born in"}, {"city"}}

	for mask := 1; mask < 8; mask++ {
		lists := make([]any, 3)
		for i := range lists {
			if mask&(1<<i) != 0 {
				lists[i] = values[i]
			} else {
				lists[i] = []any{}
			}
		}
		got, err := tripleDirective(lists)
		if err != nil {
			t.Fatalf("mask %03b: %v", mask, err)
		}
		if !strings.HasPrefix(got, "\n"+tripleMarker+": ") {
			t.Errorf("mask %03b: missing marker: %q", mask, got)
		}
		for i, label := range labels {
			present := strings.Contains(got, label+" must be chosen from the following list:\n"+result.Marshal(values[i])+"\n")
			if present != (mask&(1<<i) != 0) {
				t.Errorf("mask %03b: %s present = %v in %q", mask, label, present, got)
			}
		}
		if strings.Contains(got, "[]") {
			t.Errorf("mask %03b: empty list rendered: %q", mask, got)
		}
	}
}

func TestTripleShorterForms(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    []string
		notWant []string
	}{
		{"one list", []any{[]any{"person"}}, []string{"Entities type must"}, []string{"Relation type"}},
		{"flat list", []any{"person", "city"}, []string{`Entities type must be chosen from the following list:` + "\n" + `["person","city"]`}, []string{"Relation type"}},
		{"relations only", []any{[]any{}, []any{"born in"}}, []string{"Relation type must"}, []string{"Entities type"}},
		{"entities only", []any{[]any{"person"}, []any{}}, []string{"Entities type must"}, []string{"Relation type"}},
		{"both", []any{[]any{"person"}, []any{"born in"}}, []string{"Entities type must", "Relation type must"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tripleDirective(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in %q", w, got)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("unexpected %q in %q", w, got)
				}
			}
		})
	}
}

func TestApplyConstraintShapeErrorLeavesConstraint(t *testing.T) {
	in := map[string]any{"person": []any{"name"}}
	st := task.New(task.Input{Task: task.NER, Constraint: in})
	ApplyConstraint(st, nil)
	if _, ok := st.Constraint.(map[string]any); !ok {
		t.Fatalf("constraint = %#v, want unchanged mapping", st.Constraint)
	}
	if len(st.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", st.Warnings)
	}

	mixed := task.New(task.Input{Task: task.Triple, Constraint: []any{"person", []any{"born in"}}})
	ApplyConstraint(mixed, nil)
	if _, ok := mixed.Constraint.([]any); !ok {
		t.Errorf("mixed triple constraint rewritten: %#v", mixed.Constraint)
	}
}

func TestApplyConstraintBase(t *testing.T) {
	st := task.New(task.Input{Task: task.Base, Instruction: "Extract the capital."})
	ApplyConstraint(st, nil)
	var got map[string]any
	if err := json.Unmarshal([]byte(st.ConstraintText()), &got); err != nil {
		t.Fatalf("constraint is not JSON: %v", err)
	}
	if got["instruction"] != "Extract the capital." {
		t.Errorf("instruction = %v", got["instruction"])
	}
	props := got["schema"].(map[string]any)["properties"].(map[string]any)
	if _, ok := props["extracted_info"]; !ok {
		t.Errorf("schema = %v", got["schema"])
	}

	explicit := task.New(task.Input{Task: task.Base, Instruction: "x", Constraint: "only capitals"})
	ApplyConstraint(explicit, nil)
	if explicit.Constraint != "only capitals" {
		t.Errorf("explicit constraint replaced: %v", explicit.Constraint)
	}
}

func TestCompatibleConstraintEE(t *testing.T) {
	st := task.New(task.Input{Task: task.EE, Constraint: map[string]any{
		"Trade": []any{"buyer"},
		"Attack": []any{"attacker"},
	}})
	got := result.Marshal(compatibleConstraint(st))
	want := `[{"arguments":["attacker"],"event_type":"Attack","trigger":true},{"arguments":["buyer"],"event_type":"Trade","trigger":true}]`
	if got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}

	bad := task.New(task.Input{Task: task.EE, Constraint: []any{"Attack"}})
	if got := compatibleConstraint(bad); result.Marshal(got) != `["Attack"]` {
		t.Errorf("non-mapping EE constraint changed: %v", got)
	}
}

func TestExtractDirectKeepsChunkOrder(t *testing.T) {
	client, p := newClient(func(prompt string) string {
		return `{"chunk": "` + textOf(prompt) + `"}`
	})
	a := NewExtractionAgent(client, nil, nil, ExtractionConfig{Concurrency: 3})
	st := task.New(task.Input{Task: task.NER, Instruction: "Extract entities."})
	st.SetChunks([]string{"c0", "c1", "c2", "c3", "c4"})

	if err := a.Direct(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 5 {
		t.Errorf("calls = %d, want 5", p.Calls())
	}
	for i, r := range st.Results {
		if got := r.Data["chunk"]; got != st.Chunks[i] {
			t.Errorf("result %d = %v, want %s", i, got, st.Chunks[i])
		}
	}
	steps := st.Trajectory()
	if len(steps) != 1 || steps[0].Method != MethodExtractDirect {
		t.Errorf("trajectory = %+v", steps)
	}
}

func TestExtractDirectFailedChunkIsMarked(t *testing.T) {
	p := llmtest.NewWithRequest(func(req llm.ChatRequest) (string, error) {
		if strings.Contains(req.Messages[0].Content, "**Text**: bad") {
			return "", errors.New("boom")
		}
		return `{"ok": true}`, nil
	})
	a := NewExtractionAgent(llm.NewClient(p, llm.ClientConfig{}), nil, nil, ExtractionConfig{})
	st := task.New(task.Input{Task: task.Base, Instruction: "x"})
	st.SetChunks([]string{"good", "bad"})

	if err := a.Direct(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if !st.Results[0].IsStructured() {
		t.Errorf("result 0 = %+v", st.Results[0])
	}
	if st.Results[1].IsStructured() || st.Results[1].Text != "" || !st.Results[1].IsFailed() {
		t.Errorf("result 1 = %+v, want failed placeholder", st.Results[1])
	}
	if len(st.Warnings) != 1 {
		t.Errorf("warnings = %v", st.Warnings)
	}
}

func TestExtractRequiresChunks(t *testing.T) {
	client, _ := newClient(func(string) string { return "{}" })
	a := NewExtractionAgent(client, nil, nil, ExtractionConfig{})
	st := task.New(task.Input{Task: task.NER, Text: "x"})
	if err := a.Direct(context.Background(), st); !errors.Is(err, task.ErrNoChunks) {
		t.Fatalf("err = %v, want ErrNoChunks", err)
	}
}

func TestCompatiblePrompt(t *testing.T) {
	client, p := newClient(func(string) string { return `{"entity_list": []}` })
	a := NewExtractionAgent(client, nil, nil, ExtractionConfig{Compatible: true})
	st := task.New(task.Input{Task: task.NER, Instruction: "ignored", Constraint: []any{"person"}})
	st.SetChunks([]string{"Ada Lovelace was born in London."})

	if err := a.Direct(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	var env compatibleEnvelope
	if err := json.Unmarshal([]byte(p.Prompts()[0]), &env); err != nil {
		t.Fatalf("prompt is not a JSON envelope: %v", err)
	}
	if env.Instruction != compatibleInstructions["NER"] || env.Input != st.Chunks[0] {
		t.Errorf("envelope = %+v", env)
	}
	if result.Marshal(env.Schema) != `["person"]` {
		t.Errorf("schema = %v, want raw list", env.Schema)
	}
}

func TestSummarizeSingleResultMakesNoCall(t *testing.T) {
	client, p := newClient(func(string) string { return `{"merged": true}` })
	a := NewExtractionAgent(client, nil, nil, ExtractionConfig{})
	st := task.New(task.Input{Task: task.RE})
	one := result.Structured(map[string]any{"relation_list": []any{}})
	st.SetResults([]result.Result{one})

	if err := a.Summarize(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 0 {
		t.Errorf("calls = %d, want 0", p.Calls())
	}
	if !result.Equal(st.Prediction, one) {
		t.Errorf("prediction = %v", st.Prediction)
	}

	st.SetResults([]result.Result{one, result.Raw("x")})
	if err := a.Summarize(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 1 || st.Prediction.Data["merged"] != true {
		t.Errorf("calls = %d, prediction = %v", p.Calls(), st.Prediction)
	}
}

func TestSummarizeNoResultsIsNoop(t *testing.T) {
	client, p := newClient(func(string) string { return "{}" })
	a := NewExtractionAgent(client, nil, nil, ExtractionConfig{})
	st := task.New(task.Input{Task: task.RE})
	if err := a.Summarize(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 0 || !st.Prediction.IsZero() {
		t.Errorf("calls = %d, prediction = %v", p.Calls(), st.Prediction)
	}
}

func TestReflectMajorityWins(t *testing.T) {
	client, p := newClient(func(string) string { return `{"reflected": true}` })
	a := NewReflectionAgent(client, nil)
	st := task.New(task.Input{Task: task.RE})
	st.SetChunks([]string{"The capital of Guinea is Conakry."})
	good := result.Structured(map[string]any{"capital": "Conakry"})
	st.SetResults([]result.Result{good})

	var mu sync.Mutex
	calls := 0
	extract := func(ctx context.Context, st *task.State) ([]result.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return []result.Result{result.Structured(map[string]any{"capital": "Dakar"})}, nil
		}
		return []result.Result{result.Structured(map[string]any{"capital": "Conakry"})}, nil
	}

	if err := a.ReflectWithCase(context.Background(), st, extract); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("resamples = %d, want 2", calls)
	}
	if p.Calls() != 0 {
		t.Errorf("reflection calls = %d, want 0", p.Calls())
	}
	if !result.Equal(st.Results[0], good) {
		t.Errorf("result = %v, want majority", st.Results[0])
	}
	steps := st.Trajectory()
	if len(steps) != 1 || steps[0].Method != MethodReflectWithCase {
		t.Errorf("trajectory = %+v", steps)
	}
}

func TestReflectRepairsFlaggedChunks(t *testing.T) {
	client, p := newClient(func(prompt string) string {
		if !strings.Contains(prompt, "**Original Result**") {
			return "{}"
		}
		return `{"capital": "Conakry"}`
	})
	a := NewReflectionAgent(client, nil)
	st := task.New(task.Input{Task: task.RE, Instruction: "Extract capitals."})
	st.SetChunks([]string{"The capital of Guinea is Conakry."})
	st.SetResults([]result.Result{result.Structured(map[string]any{"capital": "A"})})

	var mu sync.Mutex
	n := 0
	extract := func(ctx context.Context, st *task.State) ([]result.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return []result.Result{result.Structured(map[string]any{"capital": strings.Repeat("B", n)})}, nil
	}

	if err := a.ReflectWithCase(context.Background(), st, extract); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 1 {
		t.Fatalf("reflection calls = %d, want 1", p.Calls())
	}
	prompt := p.Prompts()[0]
	if !strings.Contains(prompt, "**Text**: The capital of Guinea is Conakry.") {
		t.Errorf("prompt misses chunk text:\n%s", prompt)
	}
	if strings.Contains(prompt, "examples of bad cases") {
		t.Errorf("bad case wrapper used without cases:\n%s", prompt)
	}
	if st.Results[0].Data["capital"] != "Conakry" {
		t.Errorf("result = %v", st.Results[0])
	}
}

func TestReflectResampleTemperatures(t *testing.T) {
	var mu sync.Mutex
	var temps []float64
	p := llmtest.NewWithRequest(func(req llm.ChatRequest) (string, error) {
		mu.Lock()
		temps = append(temps, req.Temperature)
		mu.Unlock()
		return `{"capital": "Conakry"}`, nil
	})
	client := llm.NewClient(p, llm.ClientConfig{})
	ext := NewExtractionAgent(client, nil, nil, ExtractionConfig{})
	ref := NewReflectionAgent(client, nil)

	st := task.New(task.Input{Task: task.RE, Instruction: "x"})
	st.SetChunks([]string{"The capital of Guinea is Conakry."})
	if err := ext.Direct(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if err := ref.ReflectWithCase(context.Background(), st, ext.ExtractDirect); err != nil {
		t.Fatal(err)
	}
	if err := ext.Summarize(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	if len(temps) != 3 {
		t.Fatalf("temperatures = %v, want 3 calls", temps)
	}
	def := llm.DefaultSampling().Temperature
	if temps[0] != def {
		t.Errorf("first call temperature = %v, want %v", temps[0], def)
	}
	seen := map[float64]bool{temps[1]: true, temps[2]: true}
	if !seen[0.5] || !seen[1.0] {
		t.Errorf("resample temperatures = %v", temps[1:])
	}
	if c := client.Sampling().Temperature; c != def {
		t.Errorf("client temperature leaked: %v", c)
	}
}

func TestReflectKeepsResultWhenResamplesFail(t *testing.T) {
	p := llmtest.NewWithRequest(func(req llm.ChatRequest) (string, error) {
		if req.Temperature >= 0.5 {
			return "", errors.New("provider unavailable")
		}
		return `{"relation_list": [{"head": "Guinea", "relation": "country capital", "tail": "Conakry"}]}`, nil
	})
	client := llm.NewClient(p, llm.ClientConfig{MaxAttempts: 1})
	ext := NewExtractionAgent(client, nil, nil, ExtractionConfig{})
	ref := NewReflectionAgent(client, nil)

	st := task.New(task.Input{Task: task.RE, Instruction: "x"})
	st.SetChunks([]string{"The capital of Guinea is Conakry."})
	if err := ext.Direct(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	before := st.Results[0]
	if !before.IsStructured() {
		t.Fatalf("direct result = %v", before)
	}

	if err := ref.ReflectWithCase(context.Background(), st, ext.ExtractDirect); err != nil {
		t.Fatal(err)
	}
	if !result.Equal(st.Results[0], before) {
		t.Errorf("result = %q, want original %q", st.Results[0], before)
	}
	if p.Calls() != 3 {
		t.Errorf("calls = %d, want 3 and no reflection", p.Calls())
	}
}

func TestReflectWithoutResultsIsNoop(t *testing.T) {
	client, p := newClient(func(string) string { return "{}" })
	a := NewReflectionAgent(client, nil)
	st := task.New(task.Input{Task: task.RE})
	called := false
	extract := func(context.Context, *task.State) ([]result.Result, error) {
		called = true
		return nil, nil
	}
	if err := a.ReflectWithCase(context.Background(), st, extract); err != nil {
		t.Fatal(err)
	}
	if called || p.Calls() != 0 || len(st.Trajectory()) != 0 {
		t.Errorf("no-op reflection did work")
	}
}

const goSchemaReply = "Here is the schema:\n```go\ntype ExtractionTarget struct {\n\tCapitals []string `json:\"capitals\"` // capital cities\n}\n```"

func schemaResponder(code, skeleton string) func(string) string {
	return func(prompt string) string {
		switch {
		case strings.Contains(prompt, "analyze and categorize"):
			return `{"field": "Geography", "genre": "Encyclopedia"}`
		case strings.Contains(prompt, "Define the output schema in Go"):
			return code
		case strings.Contains(prompt, "deduce the output schema in json format"):
			return skeleton
		}
		return ""
	}
}

func newSchemaAgent(respond func(string) string) (*SchemaAgent, *llmtest.Provider) {
	client, p := newClient(respond)
	return NewSchemaAgent(client, schema.NewCatalog(), chunker.New(chunker.Config{}, nil), ""), p
}

func TestDeducedSchemaFromGoCode(t *testing.T) {
	a, p := newSchemaAgent(schemaResponder(goSchemaReply, ""))
	st := task.New(task.Input{Task: task.Base, Instruction: "Extract capitals.", Text: "The capital of Guinea is Conakry."})

	if err := a.DeducedSchema(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 2 {
		t.Errorf("calls = %d, want 2", p.Calls())
	}
	if want := "This text is from the field of Geography and represents the genre of Encyclopedia."; st.DistilledText != want {
		t.Errorf("distilled = %q", st.DistilledText)
	}
	if !strings.HasPrefix(st.Schema, DefaultSchemaText+"\n") || !strings.Contains(st.Schema, "capitals") {
		t.Errorf("schema = %q", st.Schema)
	}
	if !strings.Contains(st.PrintableSchema, "type ExtractionTarget struct") {
		t.Errorf("printable = %q", st.PrintableSchema)
	}
	if steps := st.Trajectory(); len(steps) != 1 || steps[0].Method != MethodDeducedSchema {
		t.Errorf("trajectory = %+v", steps)
	}
}

func TestDeducedSchemaFallsBackToJSON(t *testing.T) {
	a, p := newSchemaAgent(schemaResponder("no code here", `{"capital": null, "country": None}`))
	st := task.New(task.Input{Task: task.Base, Instruction: "Extract capitals.", Text: "The capital of Guinea is Conakry."})

	if err := a.DeducedSchema(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 3 {
		t.Errorf("calls = %d, want 3", p.Calls())
	}
	if !strings.Contains(st.Schema, `"capital"`) || !strings.Contains(st.Schema, `"country"`) {
		t.Errorf("schema = %q", st.Schema)
	}
	if !strings.Contains(st.PrintableSchema, "ExtractionTarget") {
		t.Errorf("printable = %q", st.PrintableSchema)
	}
}

func TestDeducedSchemaFallsBackToDefault(t *testing.T) {
	a, _ := newSchemaAgent(schemaResponder("no code", "no json"))
	st := task.New(task.Input{Task: task.Base, Instruction: "x", Text: "Some text."})

	if err := a.DeducedSchema(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Schema != DefaultSchemaText {
		t.Errorf("schema = %q", st.Schema)
	}
	if steps := st.Trajectory(); len(steps) != 1 || steps[0].Method != MethodDefaultSchema {
		t.Errorf("trajectory = %+v", steps)
	}
	if len(st.Warnings) == 0 {
		t.Error("expected a warning")
	}
}

func TestDeducedSchemaMultiChunkSkipsAnalysis(t *testing.T) {
	client, p := newClient(schemaResponder(goSchemaReply, ""))
	a := NewSchemaAgent(client, nil, chunker.New(chunker.Config{TokenLimit: 4}, nil), "")
	st := task.New(task.Input{Task: task.Base, Instruction: "x",
		Text: "Guinea is in Africa. Its capital is Conakry. Senegal borders it."})

	if err := a.DeducedSchema(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if len(st.Chunks) < 2 {
		t.Fatalf("chunks = %v", st.Chunks)
	}
	if p.Calls() != 1 {
		t.Errorf("calls = %d, want 1", p.Calls())
	}
	if !strings.HasPrefix(st.DistilledText, "Below is a portion of the text to be extracted.") {
		t.Errorf("distilled = %q", st.DistilledText)
	}
}

func TestRetrievedSchema(t *testing.T) {
	a, p := newSchemaAgent(func(string) string { return "" })
	st := task.New(task.Input{Task: task.RE, Text: "The capital of Guinea is Conakry."})
	if err := a.RetrievedSchema(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 0 {
		t.Errorf("calls = %d", p.Calls())
	}
	if !strings.Contains(st.Schema, "relation_list") {
		t.Errorf("schema = %q", st.Schema)
	}
	if !strings.Contains(st.PrintableSchema, "RelationList") {
		t.Errorf("printable = %q", st.PrintableSchema)
	}
	if steps := st.Trajectory(); steps[0].Method != MethodRetrievedSchema {
		t.Errorf("trajectory = %+v", steps)
	}

	unknown := task.New(task.Input{Task: task.NER, Text: "x", SchemaName: "Nope"})
	if err := a.RetrievedSchema(context.Background(), unknown); err != nil {
		t.Fatal(err)
	}
	if unknown.Schema != DefaultSchemaText || len(unknown.Warnings) != 1 {
		t.Errorf("schema = %q, warnings = %v", unknown.Schema, unknown.Warnings)
	}
}

func TestSchemaAgentEmptyTextFails(t *testing.T) {
	a, _ := newSchemaAgent(func(string) string { return "" })
	st := task.New(task.Input{Task: task.NER})
	if err := a.DefaultSchema(context.Background(), st); !errors.Is(err, task.ErrNoChunks) {
		t.Fatalf("err = %v, want ErrNoChunks", err)
	}
}
