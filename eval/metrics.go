package eval

import "github.com/brunobiangulo/goextract/result"

// Score is the set-based precision, recall and F1 of one prediction.
type Score struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// RecordSet normalizes records into a set keyed by their canonical form, so
// key order, case and punctuation spacing do not matter and duplicates
// count once.
func RecordSet(records []any) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[result.Canonical(r)] = struct{}{}
	}
	return set
}

// Calculate scores pred against truth. Empty denominators give zero rather
// than NaN.
func Calculate(truth, pred map[string]struct{}) Score {
	tp := 0
	for k := range pred {
		if _, ok := truth[k]; ok {
			tp++
		}
	}
	fp := len(pred) - tp
	fn := len(truth) - tp

	var s Score
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}
