package similarity

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Matcher scores a query against candidates on a 0-100 scale. The returned
// slice is aligned with candidates.
type Matcher interface {
	ScoreAll(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// TokenSortMatcher implements the token-sort ratio: both strings are
// tokenized, tokens sorted and rejoined, and the edit-distance similarity of
// the results is scaled to 0-100.
type TokenSortMatcher struct{}

// ScoreAll implements Matcher.
func (TokenSortMatcher) ScoreAll(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := sortedTokens(query)
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = ratio(q, sortedTokens(c))
	}
	return out, nil
}

// TokenSortRatio scores a and b on a 0-100 scale.
func TokenSortRatio(a, b string) float64 {
	return ratio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	toks := Tokens(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}
