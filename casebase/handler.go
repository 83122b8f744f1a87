package casebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/task"
)

const renderAttempts = 3

// Handler derives case keys from task states, queries the repository for
// few-shot examples and turns corrected predictions into new cases.
type Handler struct {
	repo *Repository
	llm  llm.Completer
}

// NewHandler returns a Handler over repo. repo may be nil, in which case
// queries return nothing and updates are skipped.
func NewHandler(repo *Repository, completer llm.Completer) *Handler {
	return &Handler{repo: repo, llm: completer}
}

// Repository returns the underlying repository, possibly nil.
func (h *Handler) Repository() *Repository { return h.repo }

// Available reports whether a repository is configured.
func (h *Handler) Available() bool { return h.repo != nil }

// EmbedKey is the text compared by embedding similarity: the distilled
// description plus the first chunk.
func EmbedKey(st *task.State) string {
	first := ""
	if len(st.Chunks) > 0 {
		first = st.Chunks[0]
	}
	return fmt.Sprintf("**Text**: %s\n%s", st.DistilledText, first)
}

// StrKey is the text compared by fuzzy ratio: the instruction for Base tasks
// and the serialized constraint for every other task.
func StrKey(st *task.State) string {
	if st.Task == task.Base {
		return "**Task**: " + st.Instruction
	}
	return result.Marshal(st.Constraint)
}

// BadStrKey extends StrKey with a wrong answer so that bad cases are matched
// on the mistake as well as the task.
func BadStrKey(st *task.State, answer result.Result) string {
	return StrKey(st) + "\n" + answer.String()
}

// QueryGood returns up to k good-case contents for st.
func (h *Handler) QueryGood(ctx context.Context, st *task.State) ([]string, error) {
	if err := st.RequireChunks(); err != nil {
		return nil, err
	}
	return h.repo.Query(ctx, st.Task, Good, EmbedKey(st), StrKey(st), 0)
}

// QueryBad returns up to k bad-case contents resembling answer.
func (h *Handler) QueryBad(ctx context.Context, st *task.State, answer result.Result) ([]string, error) {
	if err := st.RequireChunks(); err != nil {
		return nil, err
	}
	return h.repo.Query(ctx, st.Task, Bad, EmbedKey(st), BadStrKey(st, answer), 0)
}

// UpdateReport says what Update did to each bucket.
type UpdateReport struct {
	Good InsertResult `json:"good"`
	Bad  InsertResult `json:"bad"`
}

// Update learns from a finished request: truth is stored as a good case,
// and if the prediction differs from it, the mistake is stored as a bad case.
// Both buckets are then persisted. A failing repository degrades to a
// warning on st rather than an error.
func (h *Handler) Update(ctx context.Context, st *task.State, truth result.Result) (UpdateReport, error) {
	report := UpdateReport{Good: Skipped, Bad: Skipped}
	if h.repo == nil {
		st.Warn("case update skipped: %v", ErrUnavailable)
		return report, nil
	}
	if truth.IsZero() {
		return report, nil
	}
	if err := st.RequireChunks(); err != nil {
		return report, err
	}

	embedKey := EmbedKey(st)
	info := st.ConstraintText()
	text := st.DistilledText + "\n" + st.Chunks[0]

	res, err := h.repo.Insert(ctx, InsertRequest{
		Task:     st.Task,
		Outcome:  Good,
		EmbedKey: embedKey,
		StrKey:   StrKey(st),
		Render: func(ctx context.Context) (string, error) {
			analysis, err := h.prose(ctx, fill(goodCaseAnalysisPrompt,
				"{instruction}", st.Instruction,
				"{text}", text,
				"{additional_info}", info,
				"{result}", truth.String(),
			))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s\n\n%s\n\n**Analysis**: %s\n\n**Correct Answer**: %s",
				StrKey(st), embedKey, analysis, truth.String()), nil
		},
	})
	if err := h.degrade(ctx, st, "good", err); err != nil {
		return report, err
	}
	report.Good = res

	pred := st.Prediction
	if result.Equal(pred.Value(), truth.Value()) {
		report.Bad = Skipped
	} else {
		strKey := BadStrKey(st, pred)
		res, err = h.repo.Insert(ctx, InsertRequest{
			Task:     st.Task,
			Outcome:  Bad,
			EmbedKey: embedKey,
			StrKey:   strKey,
			Render: func(ctx context.Context) (string, error) {
				reflection, err := h.prose(ctx, fill(badCaseReflectionPrompt,
					"{instruction}", st.Instruction,
					"{text}", text,
					"{additional_info}", info,
					"{original_answer}", pred.String(),
					"{correct_answer}", truth.String(),
				))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s\n\n%s\n\n**Original Answer**: %s\n\n**Reflection**: %s\n\n**Correct Answer**: %s",
					strKey, embedKey, pred.String(), reflection, truth.String()), nil
			},
		})
		if err := h.degrade(ctx, st, "bad", err); err != nil {
			return report, err
		}
		report.Bad = res
	}

	if err := h.repo.Persist(ctx); err != nil {
		slog.Warn("casebase: persist failed", "error", err)
		st.Warn("case persist failed: %v", err)
	}
	return report, nil
}

// degrade turns repository failures into warnings. Only cancellation is
// returned to the caller.
func (h *Handler) degrade(ctx context.Context, st *task.State, outcome string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Warn("casebase: case insert failed", "outcome", outcome, "error", err)
	st.Warn("%s case not stored: %v", outcome, err)
	return nil
}

// prose asks for an analysis or reflection. A reply that parses as a JSON
// object is an extraction result rather than prose, so the call is retried;
// after the last attempt whatever text came back is used.
func (h *Handler) prose(ctx context.Context, prompt string) (string, error) {
	if h.llm == nil {
		return "", errors.New("casebase: no language model configured")
	}
	var last string
	var lastErr error
	for i := 0; i < renderAttempts; i++ {
		text, err := h.llm.Complete(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		last = text
		if !result.Parse(text).IsStructured() {
			return text, nil
		}
	}
	if last == "" && lastErr != nil {
		return "", lastErr
	}
	return last, nil
}
