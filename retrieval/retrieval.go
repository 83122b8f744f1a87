// Package retrieval searches the stored case repository by fusing vector
// similarity over case embeddings with FTS5 keyword matches.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/goextract/similarity"
	"github.com/brunobiangulo/goextract/store"
)

// Options tunes a single search.
type Options struct {
	Task       string
	MaxResults int
	WeightVec  float64
	WeightFTS  float64
}

// Trace explains how a search produced its results.
type Trace struct {
	VecWeight    float64                `json:"vec_weight"`
	FTSWeight    float64                `json:"fts_weight"`
	VecResults   int                    `json:"vec_results"`
	FTSResults   int                    `json:"fts_results"`
	FusedResults int                    `json:"fused_results"`
	VecError     string                 `json:"vec_error,omitempty"`
	PerCase      map[int64]Contribution `json:"per_case"`
	ElapsedMs    int64                  `json:"elapsed_ms"`
}

// Searcher runs hybrid case searches against one store.
type Searcher struct {
	store    *store.Store
	embedder similarity.Embedder
}

// New returns a Searcher. A nil embedder limits searches to FTS.
func New(s *store.Store, embedder similarity.Embedder) *Searcher {
	return &Searcher{store: s, embedder: embedder}
}

// Search runs the vector and FTS searches concurrently and fuses them.
// A failed vector search degrades to FTS only and is reported in the trace.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]store.Case, *Trace, error) {
	if s.store == nil {
		return nil, nil, errors.New("retrieval: no store")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.WeightVec == 0 {
		opts.WeightVec = 1
	}
	if opts.WeightFTS == 0 {
		opts.WeightFTS = 1
	}
	start := time.Now()
	trace := &Trace{VecWeight: opts.WeightVec, FTSWeight: opts.WeightFTS}

	// Each method fetches a wider window than the final cut so fusion has
	// overlap to work with.
	window := opts.MaxResults * 2

	var vec, fts []store.Case
	var vecErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, vecErr = s.vectorSearch(gctx, query, opts.Task, window)
		return nil
	})
	g.Go(func() error {
		var err error
		fts, err = s.store.SearchCases(gctx, query, opts.Task, window)
		if err != nil {
			return fmt.Errorf("fts search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, trace, err
	}
	if vecErr != nil {
		slog.Warn("retrieval: vector search failed", "error", vecErr)
		trace.VecError = vecErr.Error()
	}

	fused, info := fuseRRF(vec, fts, opts.WeightVec, opts.WeightFTS, opts.MaxResults)
	trace.VecResults = len(vec)
	trace.FTSResults = len(fts)
	trace.FusedResults = len(fused)
	trace.PerCase = info
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: case search complete",
		"vec_results", len(vec), "fts_results", len(fts), "fused", len(fused),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return fused, trace, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, query, task string, k int) ([]store.Case, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return s.store.SearchCaseVectors(ctx, vecs[0], task, k)
}
