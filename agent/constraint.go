package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/schema"
	"github.com/brunobiangulo/goextract/task"
)

// ErrConstraintShape is reported when a constraint does not have the shape
// its task expects. The constraint is left untouched.
var ErrConstraintShape = errors.New("agent: unexpected constraint shape")

const (
	nerMarker    = "**Entity Type Constraint**"
	reMarker     = "**Relation Type Constraint**"
	eeMarker     = "**Event Extraction Constraint**"
	tripleMarker = "**Triple Extraction Constraint**"
)

// baseSchema is the output schema given to Base tasks that name nothing
// more specific.
var baseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"extracted_info": map[string]any{"type": "string"},
	},
}

// ApplyConstraint rewrites st.Constraint into the directive embedded in
// extraction prompts. Applying it twice is a no-op. A constraint of the
// wrong shape is logged and left as it was.
func ApplyConstraint(st *task.State, catalog *schema.Catalog) {
	if st.Task == task.Base {
		applyBase(st, catalog)
		return
	}
	if !st.HasConstraint() {
		return
	}
	wrapped, err := wrapConstraint(st.Task, st.Constraint)
	if err != nil {
		slog.Warn("agent: constraint left unchanged", "task", st.Task, "error", err)
		st.Warn("constraint ignored: %v", err)
		return
	}
	st.Constraint = wrapped
}

func applyBase(st *task.State, catalog *schema.Catalog) {
	if st.HasConstraint() {
		return
	}
	var sch any = baseSchema
	if catalog != nil && st.SchemaName != "" {
		if def, ok := catalog.Get(st.SchemaName); ok {
			sch = def.JSONSchema()
		}
	}
	st.Constraint = result.Marshal(map[string]any{
		"instruction": st.Instruction,
		"schema":      sch,
	})
}

func wrapConstraint(t task.Type, c any) (any, error) {
	marker := map[task.Type]string{
		task.NER: nerMarker, task.RE: reMarker, task.EE: eeMarker, task.Triple: tripleMarker,
	}[t]
	if s, ok := c.(string); ok && strings.Contains(s, marker) {
		return c, nil
	}

	switch t {
	case task.NER, task.RE:
		if _, ok := c.(map[string]any); ok {
			return nil, fmt.Errorf("%w: %s wants a list, got a mapping", ErrConstraintShape, t)
		}
		head := "\n" + nerMarker + ": The type of entities must be chosen from the following list.\n"
		if t == task.RE {
			head = "\n" + reMarker + ": The type of relations must be chosen from the following list.\n"
		}
		return head + result.Marshal(c) + "\n", nil
	case task.EE:
		if _, ok := c.(map[string]any); !ok {
			return nil, fmt.Errorf("%w: EE wants an event-type mapping, got %T", ErrConstraintShape, c)
		}
		return "\n" + eeMarker + ": The event type must be selected from the following dictionary keys, and its event arguments should be chosen from its corresponding dictionary values. \n" +
			result.Marshal(c) + "\n", nil
	case task.Triple:
		return tripleDirective(c)
	}
	return c, nil
}

// tripleDirective renders a Triple constraint. One list constrains entity
// types, two lists entity and relation types, three lists subject,
// relation and object types. Only non-empty dimensions are named.
func tripleDirective(c any) (string, error) {
	items, ok := c.([]any)
	if !ok {
		return "", fmt.Errorf("%w: Triple wants a list, got %T", ErrConstraintShape, c)
	}
	lists := make([][]any, 0, len(items))
	for _, it := range items {
		l, ok := it.([]any)
		if !ok {
			lists = nil
			break
		}
		lists = append(lists, l)
	}
	if lists == nil {
		for _, it := range items {
			if _, isList := it.([]any); isList {
				return "", fmt.Errorf("%w: Triple mixes lists and values", ErrConstraintShape)
			}
		}
		// A flat list of types constrains entities.
		lists = [][]any{items}
	}

	var labels []string
	switch len(lists) {
	case 1:
		labels = []string{"Entities type"}
	case 2:
		labels = []string{"Entities type", "Relation type"}
	case 3:
		labels = []string{"Subject Entities", "Relation type", "Object Entities"}
	default:
		return "\n" + tripleMarker + ": The type of entities must be chosen from the following list:\n" + result.Marshal(c) + "\n", nil
	}

	var b strings.Builder
	b.WriteString("\n" + tripleMarker + ": ")
	named := 0
	for i, l := range lists {
		if len(l) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s must be chosen from the following list:\n%s\n", labels[i], result.Marshal(l))
		named++
	}
	if named == 0 {
		return "", fmt.Errorf("%w: Triple lists are all empty", ErrConstraintShape)
	}
	return b.String(), nil
}

// compatibleConstraint converts st.Constraint into the schema field of the
// JSON envelope understood by extraction-only models. NER and RE lists pass
// through; EE mappings become one entry per event type.
func compatibleConstraint(st *task.State) any {
	if st.Task != task.EE || !st.HasConstraint() {
		return st.Constraint
	}
	events, ok := st.Constraint.(map[string]any)
	if !ok {
		slog.Warn("agent: EE constraint left unchanged", "error",
			fmt.Errorf("%w: want an event-type mapping, got %T", ErrConstraintShape, st.Constraint))
		return st.Constraint
	}
	out := make([]any, 0, len(events))
	for _, name := range sortedKeys(events) {
		out = append(out, map[string]any{
			"event_type": name,
			"trigger":    true,
			"arguments":  events[name],
		})
	}
	return out
}
