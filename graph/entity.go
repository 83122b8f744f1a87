package graph

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/task"
)

// EntityUnknown is the type given to entities whose type was not extracted.
const EntityUnknown = "entity"

// Triple is one edge read from a prediction.
type Triple struct {
	Head     string `json:"head"`
	HeadType string `json:"head_type"`
	Relation string `json:"relation"`
	Tail     string `json:"tail"`
	TailType string `json:"tail_type"`
}

// TriplesFrom reads the edges of an RE prediction (relation_list) or a
// Triple prediction (triple_list). Other tasks and raw results yield
// nothing. Names are trimmed and lowercased; incomplete edges are dropped.
func TriplesFrom(t task.Type, prediction result.Result) []Triple {
	if !prediction.IsStructured() {
		return nil
	}
	key := ""
	switch t {
	case task.RE:
		key = "relation_list"
	case task.Triple:
		key = "triple_list"
	default:
		return nil
	}
	items, _ := prediction.Data[key].([]any)

	var out []Triple
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		tr := Triple{
			Head:     normalize(m["head"]),
			HeadType: normalize(m["head_type"]),
			Relation: normalize(m["relation"]),
			Tail:     normalize(m["tail"]),
			TailType: normalize(m["tail_type"]),
		}
		if tr.Head == "" || tr.Relation == "" || tr.Tail == "" {
			continue
		}
		if tr.HeadType == "" {
			tr.HeadType = EntityUnknown
		}
		if tr.TailType == "" {
			tr.TailType = EntityUnknown
		}
		out = append(out, tr)
	}
	return out
}

func normalize(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(s)))
	}
}
