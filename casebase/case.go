// Package casebase holds the learned corpus of good and bad extraction cases
// and the hybrid similarity index used to retrieve them as few-shot guidance.
package casebase

import (
	"errors"
	"fmt"

	"github.com/brunobiangulo/goextract/task"
)

// ErrUnavailable is returned when the repository cannot serve a request
// because it failed to load or its embedder is failing.
var ErrUnavailable = errors.New("casebase: repository unavailable")

// Outcome says whether a case records a correct extraction or a corrected
// mistake.
type Outcome string

const (
	Good Outcome = "good"
	Bad  Outcome = "bad"
)

// ParseOutcome validates an outcome name.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case Good, Bad:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("casebase: unknown outcome %q", s)
}

// Case is one stored example. EmbedKey is compared by embedding similarity,
// StrKey by fuzzy string ratio, and Content is what gets injected into
// prompts.
type Case struct {
	EmbedKey string
	StrKey   string
	Content  string
}

// Record is a Case addressed to its bucket, as exchanged with a Backend.
// Vector is nil when the backend does not persist embeddings or has none for
// the record yet. ID is backend-assigned and may be zero.
type Record struct {
	ID      int64
	Task    task.Type
	Outcome Outcome
	Case
	Vector []float32
}

// BucketStat is the size of one (task, outcome) bucket.
type BucketStat struct {
	Task    task.Type `json:"task"`
	Outcome Outcome   `json:"outcome"`
	Count   int       `json:"count"`
}

type bucketKey struct {
	task    task.Type
	outcome Outcome
}
