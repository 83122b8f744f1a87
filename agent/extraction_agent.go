package agent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/goextract/casebase"
	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/schema"
	"github.com/brunobiangulo/goextract/task"
)

// ExtractFunc extracts one result per chunk of st without modifying it.
// Reflection calls it to resample an extraction.
type ExtractFunc func(ctx context.Context, st *task.State) ([]result.Result, error)

// ExtractionConfig configures an ExtractionAgent.
type ExtractionConfig struct {
	// Concurrency bounds the chunks extracted at once. Zero means 1.
	Concurrency int
	// Compatible selects the JSON envelope prompt used by extraction-only
	// models.
	Compatible bool
}

// ExtractionAgent runs per-chunk extraction and merges the chunk results.
type ExtractionAgent struct {
	llm     llm.Completer
	cases   *casebase.Handler
	catalog *schema.Catalog
	cfg     ExtractionConfig
}

// NewExtractionAgent creates an ExtractionAgent. cases may be nil.
func NewExtractionAgent(c llm.Completer, cases *casebase.Handler, catalog *schema.Catalog, cfg ExtractionConfig) *ExtractionAgent {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cases == nil {
		cases = casebase.NewHandler(nil, c)
	}
	return &ExtractionAgent{llm: c, cases: cases, catalog: catalog, cfg: cfg}
}

// Direct extracts every chunk without examples.
func (a *ExtractionAgent) Direct(ctx context.Context, st *task.State) error {
	return a.run(ctx, st, MethodExtractDirect, a.ExtractDirect)
}

// WithCase extracts every chunk with good cases as few-shot examples. It
// behaves like Direct when no case repository is configured.
func (a *ExtractionAgent) WithCase(ctx context.Context, st *task.State) error {
	if !a.cases.Available() {
		slog.Warn("agent: no case repository, extracting without examples")
		return a.Direct(ctx, st)
	}
	return a.run(ctx, st, MethodExtractWithCase, a.ExtractWithCase)
}

func (a *ExtractionAgent) run(ctx context.Context, st *task.State, method string, fn ExtractFunc) error {
	if err := st.RequireChunks(); err != nil {
		return err
	}
	if !a.cfg.Compatible {
		ApplyConstraint(st, a.catalog)
	}
	start := time.Now()
	results, err := fn(ctx, st)
	if err != nil {
		return err
	}
	st.SetResults(results)
	st.AppendTrajectory(method, results)
	slog.Info("agent: extraction finished", "request_id", st.ID, "method", method,
		"chunks", len(results), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// ExtractDirect is the ExtractFunc behind Direct.
func (a *ExtractionAgent) ExtractDirect(ctx context.Context, st *task.State) ([]result.Result, error) {
	if a.cfg.Compatible {
		return a.extractChunks(ctx, st, a.compatiblePrompt)
	}
	return a.extractChunks(ctx, st, func(st *task.State, chunk string) string {
		return a.extractPrompt(st, chunk, "")
	})
}

// ExtractWithCase is the ExtractFunc behind WithCase.
func (a *ExtractionAgent) ExtractWithCase(ctx context.Context, st *task.State) ([]result.Result, error) {
	cases, err := a.cases.QueryGood(ctx, st)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("agent: good case query failed, extracting without examples", "error", err)
		st.Warn("case query failed: %v", err)
	}
	examples := goodCaseWrapper(strings.Join(cases, "\n"))
	return a.extractChunks(ctx, st, func(st *task.State, chunk string) string {
		return a.extractPrompt(st, chunk, examples)
	})
}

func (a *ExtractionAgent) extractPrompt(st *task.State, chunk, examples string) string {
	return fill(extractPrompt,
		"{instruction}", st.Instruction,
		"{examples}", examples,
		"{text}", chunk,
		"{additional_info}", st.ConstraintText(),
		"{schema}", st.Schema,
	)
}

type compatibleEnvelope struct {
	Instruction string `json:"instruction"`
	Schema      any    `json:"schema"`
	Input       string `json:"input"`
}

func (a *ExtractionAgent) compatiblePrompt(st *task.State, chunk string) string {
	instruction := compatibleInstructions[string(st.Task)]
	if instruction == "" {
		instruction = st.Instruction
	}
	return result.MarshalIndent(compatibleEnvelope{
		Instruction: instruction,
		Schema:      compatibleConstraint(st),
		Input:       chunk,
	})
}

// extractChunks sends one prompt per chunk, at most cfg.Concurrency at a
// time, and returns the parsed replies in chunk order. A failed call
// yields result.Failed and a warning on st.
func (a *ExtractionAgent) extractChunks(ctx context.Context, st *task.State, prompt func(*task.State, string) string) ([]result.Result, error) {
	if err := st.RequireChunks(); err != nil {
		return nil, err
	}
	results := make([]result.Result, len(st.Chunks))
	sem := semaphore.NewWeighted(int64(a.cfg.Concurrency))
	var wg sync.WaitGroup
	for i, chunk := range st.Chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			defer sem.Release(1)
			p := prompt(st, chunk)
			slog.Debug("agent: extraction prompt", "chunk", i, "prompt_len", len(p))
			reply, err := a.llm.Complete(ctx, p)
			if err != nil {
				slog.Warn("agent: chunk extraction failed", "chunk", i, "error", err)
				st.Warn("chunk %d: extraction failed: %v", i, err)
				results[i] = result.Failed()
				return
			}
			results[i] = result.Parse(reply)
		}(i, chunk)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summarize merges the chunk results into st.Prediction. A single result
// is used as is; several are merged by one model call.
func (a *ExtractionAgent) Summarize(ctx context.Context, st *task.State) error {
	switch len(st.Results) {
	case 0:
		return nil
	case 1:
		st.SetPrediction(st.Results[0])
		return nil
	}

	prompt := fill(summarizePrompt,
		"{instruction}", st.Instruction,
		"{answer_list}", result.MarshalIndent(st.Results),
		"{additional_info}", st.ConstraintText(),
		"{schema}", st.Schema,
	)
	reply, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i := result.Largest(st.Results)
		slog.Warn("agent: summary failed, keeping largest chunk result", "chunk", i, "error", err)
		st.Warn("summary failed, chunk %d result kept: %v", i, err)
		st.SetPrediction(st.Results[i])
		return nil
	}
	prediction := result.Parse(reply)
	st.SetPrediction(prediction)
	st.AppendTrajectory(MethodSummarize, prediction)
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

