package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/goextract/casebase"
	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/task"
)

// ResampleTemperatures are the temperatures of the two extra extraction
// runs voted against the original one.
var ResampleTemperatures = [2]float64{0.5, 1.0}

// ReflectionAgent checks chunk results by resampling and repairs the ones
// without a majority using bad cases.
type ReflectionAgent struct {
	llm   llm.Completer
	cases *casebase.Handler
}

// NewReflectionAgent creates a ReflectionAgent. cases may be nil.
func NewReflectionAgent(c llm.Completer, cases *casebase.Handler) *ReflectionAgent {
	if cases == nil {
		cases = casebase.NewHandler(nil, c)
	}
	return &ReflectionAgent{llm: c, cases: cases}
}

// ReflectWithCase reruns extract twice at higher temperatures, keeps the
// majority answer per chunk and sends every chunk without a majority
// through the reflection prompt. It does nothing when there are no results.
func (a *ReflectionAgent) ReflectWithCase(ctx context.Context, st *task.State, extract ExtractFunc) error {
	if len(st.Results) == 0 {
		return nil
	}
	if err := st.RequireChunks(); err != nil {
		return err
	}
	start := time.Now()

	var samples [len(ResampleTemperatures)][]result.Result
	g, gctx := errgroup.WithContext(ctx)
	for i, temp := range ResampleTemperatures {
		g.Go(func() error {
			rs, err := extract(llm.WithTemperature(gctx, temp), st)
			if err != nil {
				return fmt.Errorf("resample at %.1f: %w", temp, err)
			}
			samples[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	chosen, flagged := result.Vote(st.Results, samples[0], samples[1])
	for _, idx := range flagged {
		if idx >= len(st.Chunks) {
			continue
		}
		fixed, err := a.reflect(ctx, st, idx, chosen[idx])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("agent: reflection failed, keeping voted result", "chunk", idx, "error", err)
			st.Warn("chunk %d: reflection failed: %v", idx, err)
			continue
		}
		chosen[idx] = fixed
	}

	st.SetResults(chosen)
	st.AppendTrajectory(MethodReflectWithCase, chosen)
	slog.Info("agent: reflection finished", "request_id", st.ID,
		"chunks", len(chosen), "reflected", len(flagged),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *ReflectionAgent) reflect(ctx context.Context, st *task.State, idx int, candidate result.Result) (result.Result, error) {
	cases, err := a.cases.QueryBad(ctx, st, candidate)
	if err != nil {
		if ctx.Err() != nil {
			return result.Result{}, ctx.Err()
		}
		slog.Debug("agent: bad case query failed", "error", err)
	}
	examples := ""
	if len(cases) > 0 {
		examples = badCaseWrapper(result.Marshal(cases))
	}
	prompt := fill(reflectPrompt,
		"{examples}", examples,
		"{instruction}", st.Instruction,
		"{text}", st.Chunks[idx],
		"{schema}", st.Schema,
		"{result}", result.Marshal(candidate),
	)
	reply, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		return result.Result{}, err
	}
	return result.Parse(reply), nil
}
