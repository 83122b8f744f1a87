package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/brunobiangulo/goextract/store"
)

// Edge is a stored relationship with its endpoints resolved to names.
type Edge struct {
	Source   string  `json:"source"`
	Relation string  `json:"relation"`
	Target   string  `json:"target"`
	Weight   float64 `json:"weight"`
}

// TraversalResult contains the entities and edges reached from the seeds.
type TraversalResult struct {
	Entities []string `json:"entities"`
	Edges    []Edge   `json:"edges"`
}

// Traverse finds entities matching the seed names and follows relationships
// in both directions up to maxDepth hops. Entities are sorted by name and
// edges by source, relation and target.
func Traverse(ctx context.Context, s *store.Store, seedNames []string, maxDepth int) (*TraversalResult, error) {
	if len(seedNames) == 0 || maxDepth < 0 {
		return &TraversalResult{}, nil
	}
	names := make([]string, len(seedNames))
	for i, n := range seedNames {
		names[i] = normalize(n)
	}

	seeds, err := s.GetEntitiesByNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: looking up seed entities: %w", err)
	}
	if len(seeds) == 0 {
		return &TraversalResult{}, nil
	}

	entities, err := s.AllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: loading entities: %w", err)
	}
	nameOf := make(map[int64]string, len(entities))
	for _, e := range entities {
		nameOf[e.ID] = e.Name
	}

	allRels, err := s.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: loading relationships: %w", err)
	}

	neighbours := make(map[int64][]int64)
	for _, r := range allRels {
		neighbours[r.SourceEntityID] = append(neighbours[r.SourceEntityID], r.TargetEntityID)
		neighbours[r.TargetEntityID] = append(neighbours[r.TargetEntityID], r.SourceEntityID)
	}

	visited := make(map[int64]bool)
	queue := make([]int64, 0, len(seeds))
	for _, e := range seeds {
		if !visited[e.ID] {
			visited[e.ID] = true
			queue = append(queue, e.ID)
		}
	}
	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []int64
		for _, eid := range queue {
			for _, nid := range neighbours[eid] {
				if !visited[nid] {
					visited[nid] = true
					next = append(next, nid)
				}
			}
		}
		queue = next
	}

	res := &TraversalResult{}
	seen := make(map[string]bool)
	for id := range visited {
		if n := nameOf[id]; !seen[n] {
			seen[n] = true
			res.Entities = append(res.Entities, n)
		}
	}
	sort.Strings(res.Entities)

	for _, r := range allRels {
		if visited[r.SourceEntityID] && visited[r.TargetEntityID] {
			res.Edges = append(res.Edges, Edge{
				Source:   nameOf[r.SourceEntityID],
				Relation: r.RelationType,
				Target:   nameOf[r.TargetEntityID],
				Weight:   r.Weight,
			})
		}
	}
	sort.Slice(res.Edges, func(i, j int) bool {
		a, b := res.Edges[i], res.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		return a.Target < b.Target
	})
	return res, nil
}

// Export reads every stored relationship back as a triple, sorted by head,
// relation and tail. Repeated observations are not expanded; the weight
// stays in the database.
func Export(ctx context.Context, s *store.Store) ([]Triple, error) {
	entities, err := s.AllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph.Export: loading entities: %w", err)
	}
	byID := make(map[int64]store.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	rels, err := s.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph.Export: loading relationships: %w", err)
	}

	triples := make([]Triple, 0, len(rels))
	for _, r := range rels {
		head, ok1 := byID[r.SourceEntityID]
		tail, ok2 := byID[r.TargetEntityID]
		if !ok1 || !ok2 {
			continue
		}
		triples = append(triples, Triple{
			Head:     head.Name,
			HeadType: head.EntityType,
			Relation: r.RelationType,
			Tail:     tail.Name,
			TailType: tail.EntityType,
		})
	}
	sort.Slice(triples, func(i, j int) bool {
		a, b := triples[i], triples[j]
		if a.Head != b.Head {
			return a.Head < b.Head
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		return a.Tail < b.Tail
	})
	return triples, nil
}
