package retrieval

import (
	"sort"

	"github.com/brunobiangulo/goextract/store"
)

const rrfK = 60

// Contribution records where a fused case ranked in each method.
type Contribution struct {
	Methods []string `json:"methods"`
	VecRank int      `json:"vec_rank,omitempty"` // 1-based, 0 = not present
	FTSRank int      `json:"fts_rank,omitempty"` // 1-based, 0 = not present
}

// fuseRRF combines two ranked case lists with Reciprocal Rank Fusion:
// score = sum(weight_i / (k + rank_i)). Ties keep the lower case ID first.
func fuseRRF(vec, fts []store.Case, weightVec, weightFTS float64, maxResults int) ([]store.Case, map[int64]Contribution) {
	type fusedEntry struct {
		c     store.Case
		score float64
		info  Contribution
	}
	fused := make(map[int64]*fusedEntry)
	get := func(c store.Case) *fusedEntry {
		e, ok := fused[c.ID]
		if !ok {
			e = &fusedEntry{c: c}
			fused[c.ID] = e
		}
		return e
	}

	for rank, c := range vec {
		e := get(c)
		e.score += weightVec / float64(rrfK+rank+1)
		e.info.Methods = append(e.info.Methods, "vector")
		e.info.VecRank = rank + 1
	}
	for rank, c := range fts {
		e := get(c)
		e.score += weightFTS / float64(rrfK+rank+1)
		e.info.Methods = append(e.info.Methods, "fts")
		e.info.FTSRank = rank + 1
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].c.ID < entries[j].c.ID
	})
	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	out := make([]store.Case, len(entries))
	info := make(map[int64]Contribution, len(entries))
	for i, e := range entries {
		out[i] = e.c
		out[i].Score = e.score
		info[e.c.ID] = e.info
	}
	return out, info
}
