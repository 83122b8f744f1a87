package similarity

import (
	"math"
	"sort"
)

// Weights for combining the two signals.
const (
	EmbeddingWeight = 0.5
	LexicalWeight   = 0.5
)

// Scores holds the per-candidate similarity signals for one query, aligned
// with the candidate order.
type Scores struct {
	Cosine  []float64 // raw cosine similarity
	Lexical []float64 // fuzzy ratio, 0-100
}

// Ranking combines min-max normalized cosine and lexical scores. It is only
// meaningful relative to the other candidates of the same query.
func (s Scores) Ranking() []float64 {
	emb := MinMax(s.Cosine)
	lex := MinMax(scale(s.Lexical, 0.01))
	out := make([]float64, len(emb))
	for i := range out {
		out[i] = EmbeddingWeight*emb[i] + LexicalWeight*lex[i]
	}
	return out
}

// Absolute combines raw cosine and lexical/100. Unlike Ranking it is
// comparable across queries and corpus sizes, so it backs the novelty
// threshold.
func (s Scores) Absolute() []float64 {
	out := make([]float64, len(s.Cosine))
	for i := range out {
		out[i] = EmbeddingWeight*s.Cosine[i] + LexicalWeight*s.Lexical[i]/100
	}
	return out
}

// MaxAbsolute returns the highest Absolute score, or 0 for no candidates.
func (s Scores) MaxAbsolute() float64 {
	best := 0.0
	for _, v := range s.Absolute() {
		if v > best {
			best = v
		}
	}
	return best
}

// TopK returns the indices of the k highest scores, highest first. Ties keep
// corpus order.
func TopK(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

// MinMax rescales v to [0,1]. A vector whose values are all equal is
// returned unchanged.
func MinMax(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	if len(v) == 0 {
		return out
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if hi-lo == 0 {
		return out
	}
	for i, x := range v {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineAll scores q against every row of m.
func CosineAll(q []float32, m [][]float32) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = Cosine(q, row)
	}
	return out
}

func scale(v []float64, f float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * f
	}
	return out
}
