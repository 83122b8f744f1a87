// Package graph turns relation predictions into a knowledge graph stored
// next to the case corpus.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/goextract/store"
)

// Builder upserts extracted triples into the entities and relationships
// tables. Repeated edges increase the relationship weight.
type Builder struct {
	store *store.Store
}

// NewBuilder creates a graph builder over s.
func NewBuilder(s *store.Store) *Builder {
	return &Builder{store: s}
}

// Build stores triples and returns how many were written. Failing triples
// are skipped; an error is returned only when all of them fail.
func (b *Builder) Build(ctx context.Context, extractionID string, triples []Triple) (int, error) {
	if len(triples) == 0 {
		return 0, nil
	}
	start := time.Now()

	var (
		written  int
		firstErr error
	)
	for _, t := range triples {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		_, err := b.store.UpsertTriple(ctx,
			store.Entity{Name: t.Head, EntityType: t.HeadType},
			store.Entity{Name: t.Tail, EntityType: t.TailType},
			t.Relation, extractionID)
		if err != nil {
			slog.Warn("graph: triple upsert failed, skipping",
				"head", t.Head, "relation", t.Relation, "tail", t.Tail, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}

	if written == 0 {
		return 0, fmt.Errorf("graph.Build: all %d triples failed; first error: %w", len(triples), firstErr)
	}
	slog.Info("graph: triples stored",
		"extraction_id", extractionID, "written", written, "total", len(triples),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return written, nil
}
