package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/goextract/chunker"
	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/schema"
	"github.com/brunobiangulo/goextract/task"
)

// DefaultSchemaText is the schema used when nothing more specific applies.
const DefaultSchemaText = "The final extraction result should be formatted as a JSON object."

// Method names recorded in the trajectory.
const (
	MethodDefaultSchema   = "get_default_schema"
	MethodRetrievedSchema = "get_retrieved_schema"
	MethodDeducedSchema   = "get_deduced_schema"
	MethodExtractDirect   = "extract_information_direct"
	MethodExtractWithCase = "extract_information_with_case"
	MethodReflectWithCase = "reflect_with_case"
	MethodSummarize       = "summarize_answer"
)

// TaskSchemas names the catalog definition each typed task uses by default.
var TaskSchemas = map[task.Type]string{
	task.NER:    "EntityList",
	task.RE:     "RelationList",
	task.EE:     "EventList",
	task.Triple: "TripleList",
}

// SchemaAgent produces the output schema of a request.
type SchemaAgent struct {
	llm           llm.Completer
	catalog       *schema.Catalog
	chunker       *chunker.Chunker
	defaultSchema string
}

// NewSchemaAgent creates a SchemaAgent. An empty defaultSchema means
// DefaultSchemaText.
func NewSchemaAgent(c llm.Completer, catalog *schema.Catalog, ch *chunker.Chunker, defaultSchema string) *SchemaAgent {
	if defaultSchema == "" {
		defaultSchema = DefaultSchemaText
	}
	if catalog == nil {
		catalog = schema.NewCatalog()
	}
	if ch == nil {
		ch = chunker.New(chunker.Config{}, nil)
	}
	return &SchemaAgent{llm: c, catalog: catalog, chunker: ch, defaultSchema: defaultSchema}
}

// prepare fills st.Chunks from the active input source and sets the
// printable schema of typed tasks.
func (a *SchemaAgent) prepare(ctx context.Context, st *task.State) error {
	if len(st.Chunks) == 0 {
		var chunks []string
		if st.UseFile {
			var err error
			chunks, err = a.chunker.ChunkFile(ctx, st.FilePath)
			if err != nil {
				return fmt.Errorf("chunking %s: %w", st.FilePath, err)
			}
		} else {
			chunks = a.chunker.ChunkText(st.Text)
		}
		if len(chunks) == 0 {
			return task.ErrNoChunks
		}
		st.SetChunks(chunks)
		slog.Debug("agent: chunks prepared", "request_id", st.ID, "chunks", len(chunks))
	}
	if name, ok := TaskSchemas[st.Task]; ok && st.PrintableSchema == "" {
		if def, ok := a.catalog.Get(name); ok {
			st.PrintableSchema = def.GoSource()
		}
	}
	return nil
}

// DefaultSchema sets the fixed default schema.
func (a *SchemaAgent) DefaultSchema(ctx context.Context, st *task.State) error {
	if err := a.prepare(ctx, st); err != nil {
		return err
	}
	st.SetSchema(a.defaultSchema)
	st.AppendTrajectory(MethodDefaultSchema, a.defaultSchema)
	return nil
}

// RetrievedSchema looks st.SchemaName up in the catalog, falling back to
// the task's default definition and then to DefaultSchema.
func (a *SchemaAgent) RetrievedSchema(ctx context.Context, st *task.State) error {
	if err := a.prepare(ctx, st); err != nil {
		return err
	}
	name := st.SchemaName
	if name == "" {
		name = TaskSchemas[st.Task]
	}
	def, ok := a.catalog.Get(name)
	if !ok {
		slog.Warn("agent: schema not in catalog, using default", "schema", name)
		if name != "" {
			st.Warn("schema %q not found, default schema used", name)
		}
		return a.DefaultSchema(ctx, st)
	}
	instructions := def.FormatInstructions()
	st.SetSchema(a.defaultSchema + "\n" + instructions)
	st.PrintableSchema = def.GoSource()
	st.AppendTrajectory(MethodRetrievedSchema, instructions)
	return nil
}

// DeducedSchema asks the model for a schema fitting the instruction: first
// as Go struct declarations, then as a JSON skeleton. When both fail the
// default schema is used.
func (a *SchemaAgent) DeducedSchema(ctx context.Context, st *task.State) error {
	if err := a.prepare(ctx, st); err != nil {
		return err
	}
	start := time.Now()

	if len(st.Chunks) == 1 {
		distilled, err := a.describeText(ctx, st.Chunks[0])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.Warn("text analysis failed: %v", err)
		}
		st.DistilledText = distilled
	} else {
		st.DistilledText = "Below is a portion of the text to be extracted. \n" + st.Chunks[0]
	}

	text := st.Chunks[0]
	if len(st.Chunks) > 1 {
		text = ""
	}
	vars := []string{
		"{instruction}", st.Instruction,
		"{distilled_text}", st.DistilledText,
		"{text}", text,
	}

	deduced, printable, err := a.deduceFromCode(ctx, vars)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("agent: code schema deduction failed, trying JSON", "error", err)
		deduced, printable, err = a.deduceFromJSON(ctx, vars)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("agent: schema deduction failed, using default", "error", err)
		st.Warn("schema deduction failed, default schema used: %v", err)
		return a.DefaultSchema(ctx, st)
	}

	st.SetSchema(a.defaultSchema + "\n" + deduced)
	st.PrintableSchema = printable
	st.AppendTrajectory(MethodDeducedSchema, deduced)
	slog.Info("agent: schema deduced", "request_id", st.ID,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// describeText classifies the field and genre of text.
func (a *SchemaAgent) describeText(ctx context.Context, text string) (string, error) {
	def, ok := a.catalog.Get("TextDescription")
	if !ok {
		return "", fmt.Errorf("TextDescription: %w", schema.ErrInvalidDefinition)
	}
	prompt := fill(textAnalysisPrompt,
		"{examples}", "",
		"{text}", text,
		"{schema}", def.FormatInstructions(),
	)
	reply, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	obj, ok := result.ParseObject(reply)
	if !ok {
		return "", fmt.Errorf("text analysis: %w", schema.ErrNotSkeleton)
	}
	field, _ := obj["field"].(string)
	genre, _ := obj["genre"].(string)
	if field == "" && genre == "" {
		return "", fmt.Errorf("text analysis: reply names neither field nor genre")
	}
	return fmt.Sprintf("This text is from the field of %s and represents the genre of %s.", field, genre), nil
}

func (a *SchemaAgent) deduceFromCode(ctx context.Context, vars []string) (string, string, error) {
	prompt := fill(deduceSchemaCodePrompt, append(vars, "{examples}", exampleWrapper(codeSchemaExamples))...)
	reply, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		return "", "", err
	}
	def, code, err := schema.FromGoReply(reply)
	if err != nil {
		return "", "", err
	}
	return def.FormatInstructions(), strings.TrimSpace(code), nil
}

func (a *SchemaAgent) deduceFromJSON(ctx context.Context, vars []string) (string, string, error) {
	prompt := fill(deduceSchemaJSONPrompt, append(vars, "{examples}", exampleWrapper(jsonSchemaExamples))...)
	reply, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		return "", "", err
	}
	def, skeleton, err := schema.FromSkeleton(schema.TargetName, reply)
	if err != nil {
		return "", "", err
	}
	return skeleton, def.GoSource(), nil
}
