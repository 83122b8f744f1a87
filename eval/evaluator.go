// Package eval scores extraction runs against labelled datasets with
// set-based precision, recall and F1.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/goextract"
)

// DefaultRetries is how often an item is extracted again when the
// prediction has no record list.
const DefaultRetries = 2

// Extractor runs one extraction request.
type Extractor interface {
	Extract(ctx context.Context, req goextract.Request) (*goextract.Response, error)
}

// Options configures a run.
type Options struct {
	Mode       string
	UpdateCase bool // learn from every item's gold records
	Sample     int  // first n items; zero means all
	Retries    int
}

// Evaluator runs datasets through an extraction engine.
type Evaluator struct {
	engine Extractor
	opts   Options
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(engine Extractor, opts Options) *Evaluator {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	return &Evaluator{engine: engine, opts: opts}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset    string        `json:"dataset"`
	Task       string        `json:"task"`
	Mode       string        `json:"mode,omitempty"`
	TotalItems int           `json:"total_items"`
	Errors     int           `json:"errors"`
	Average    Score         `json:"average"`
	LLMCalls   int64         `json:"llm_calls"`
	Results    []ItemResult  `json:"results"`
	RunTime    time.Duration `json:"run_time"`
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Prediction []any  `json:"prediction"`
	Truth      []any  `json:"truth"`
	Score      Score  `json:"score"`
	Attempts   int    `json:"attempts"`
	LLMCalls   int64  `json:"llm_calls"`
	Error      string `json:"error,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// Run extracts every item of ds and averages the scores. Items that fail
// count with a zero score.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	key, ok := ListKeys[ds.Task]
	if !ok {
		return nil, fmt.Errorf("eval: task %s has no record list", ds.Task)
	}
	items := ds.Items
	if e.opts.Sample > 0 && e.opts.Sample < len(items) {
		items = items[:e.opts.Sample]
	}

	start := time.Now()
	report := &Report{
		Dataset:    ds.Name,
		Task:       string(ds.Task),
		Mode:       e.opts.Mode,
		TotalItems: len(items),
	}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := e.runItem(ctx, ds, key, i, item)
		report.Results = append(report.Results, res)
		report.LLMCalls += res.LLMCalls
		if res.Error != "" {
			report.Errors++
		}
		report.Average.Precision += res.Score.Precision
		report.Average.Recall += res.Score.Recall
		report.Average.F1 += res.Score.F1

		slog.Info("eval: item complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(items)),
			"f1", fmt.Sprintf("%.2f", res.Score.F1),
			"attempts", res.Attempts,
			"elapsed_ms", res.ElapsedMs,
			"text", truncate(item.Text, 80))
	}

	if n := float64(len(items)); n > 0 {
		report.Average.Precision /= n
		report.Average.Recall /= n
		report.Average.F1 /= n
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runItem(ctx context.Context, ds Dataset, key string, idx int, item Item) ItemResult {
	start := time.Now()
	res := ItemResult{Index: idx + 1, Text: item.Text, Truth: item.Truth}

	req := goextract.Request{
		Task:       ds.Task,
		Constraint: ds.Constraint,
		Text:       item.Text,
		Mode:       e.opts.Mode,
		UpdateCase: e.opts.UpdateCase,
	}
	if e.opts.UpdateCase {
		req.Truth = map[string]any{key: item.Truth}
	}

	var lastErr error
	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		res.Attempts = attempt
		resp, err := e.engine.Extract(ctx, req)
		if err != nil {
			lastErr = err
			slog.Warn("eval: extraction failed", "item", idx+1, "attempt", attempt, "error", err)
			continue
		}
		res.LLMCalls += resp.LLMCalls
		records, ok := resp.Prediction.Data[key].([]any)
		if !resp.Prediction.IsStructured() || !ok {
			lastErr = fmt.Errorf("prediction has no %s", key)
			slog.Warn("eval: unparseable prediction, retrying", "item", idx+1, "attempt", attempt)
			continue
		}
		res.Prediction = records
		lastErr = nil
		break
	}
	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	res.Score = Calculate(RecordSet(item.Truth), RecordSet(res.Prediction))
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

// FormatReport renders a report as human-readable text.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Task: %s", r.Task)
	if r.Mode != "" {
		fmt.Fprintf(&b, " | Mode: %s", r.Mode)
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Total: %d | Errors: %d | LLM calls: %d\n", r.TotalItems, r.Errors, r.LLMCalls)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Average Metrics:\n")
	fmt.Fprintf(&b, "  Precision:  %.4f\n", r.Average.Precision)
	fmt.Fprintf(&b, "  Recall:     %.4f\n", r.Average.Recall)
	fmt.Fprintf(&b, "  F1:         %.4f\n\n", r.Average.F1)

	for _, res := range r.Results {
		fmt.Fprintf(&b, "%d. %s\n", res.Index, truncate(res.Text, 80))
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  P=%.2f R=%.2f F1=%.2f  (%d attempts, %dms)\n",
			res.Score.Precision, res.Score.Recall, res.Score.F1, res.Attempts, res.ElapsedMs)
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
