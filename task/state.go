// Package task defines the per-request state threaded through the
// extraction agents.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/brunobiangulo/goextract/result"
)

// ErrNoChunks is returned when an agent needs chunks that have not been
// produced yet.
var ErrNoChunks = errors.New("task: no chunks")

// Type is the kind of extraction requested.
type Type string

const (
	Base   Type = "Base"
	NER    Type = "NER"
	RE     Type = "RE"
	EE     Type = "EE"
	Triple Type = "Triple"
)

// Types lists every supported task type.
var Types = []Type{Base, NER, RE, EE, Triple}

// ParseType accepts a task name case-insensitively.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("task: unknown task type %q", s)
}

// Step is one trajectory entry: the method that ran and what it produced.
type Step struct {
	Method string `json:"method"`
	Output any    `json:"output"`
}

// Input is the caller-supplied part of a State.
type Input struct {
	Task        Type
	Instruction string
	// Constraint is a string, a list ([]any, possibly of lists) or a
	// mapping (map[string]any) depending on Task.
	Constraint any
	Text       string
	FilePath   string
	SchemaName string
	Truth      result.Result
	HasTruth   bool
}

// State is the mutable per-request record every agent reads and updates.
// A State belongs to one request; it is not shared between goroutines except
// through the Trajectory methods, which are locked.
type State struct {
	ID          string
	Task        Type
	Instruction string
	Constraint  any
	Text        string
	UseFile     bool
	FilePath    string
	SchemaName  string
	Truth       result.Result
	HasTruth    bool

	Chunks          []string
	DistilledText   string
	Schema          string
	PrintableSchema string
	Results         []result.Result
	Prediction      result.Result
	Warnings        []string

	mu         sync.Mutex
	trajectory []Step
}

// New creates a State with a fresh request ID.
func New(in Input) *State {
	return &State{
		ID:          uuid.NewString(),
		Task:        in.Task,
		Instruction: in.Instruction,
		Constraint:  in.Constraint,
		Text:        in.Text,
		UseFile:     in.FilePath != "",
		FilePath:    in.FilePath,
		SchemaName:  in.SchemaName,
		Truth:       in.Truth,
		HasTruth:    in.HasTruth,
	}
}

// SetSchema records the schema used in prompts.
func (s *State) SetSchema(schema string) { s.Schema = schema }

// SetPrediction records the final merged answer.
func (s *State) SetPrediction(r result.Result) { s.Prediction = r }

// SetResults replaces the per-chunk results.
func (s *State) SetResults(rs []result.Result) {
	s.Results = append([]result.Result(nil), rs...)
}

// SetChunks replaces the chunk list.
func (s *State) SetChunks(chunks []string) {
	s.Chunks = append([]string(nil), chunks...)
}

// RequireChunks returns ErrNoChunks until chunks have been populated.
func (s *State) RequireChunks() error {
	if len(s.Chunks) == 0 {
		return ErrNoChunks
	}
	return nil
}

// Warn records a non-fatal problem surfaced to the caller.
func (s *State) Warn(format string, args ...any) {
	s.mu.Lock()
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// AppendTrajectory records output under method. The first write for a method
// wins; later writes are ignored.
func (s *State) AppendTrajectory(method string, output any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.trajectory {
		if st.Method == method {
			return false
		}
	}
	s.trajectory = append(s.trajectory, Step{Method: method, Output: output})
	return true
}

// Trajectory returns the recorded steps in execution order.
func (s *State) Trajectory() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Step(nil), s.trajectory...)
}

// ConstraintText renders the constraint as it appears in prompts: strings
// verbatim, anything else as JSON.
func (s *State) ConstraintText() string {
	return ConstraintString(s.Constraint)
}

// ConstraintString renders c the way ConstraintText does.
func ConstraintString(c any) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return result.Marshal(v)
	}
}

// HasConstraint reports whether a non-empty constraint was supplied.
func (s *State) HasConstraint() bool {
	return !result.IsEmpty(s.Constraint)
}

// NormalizeConstraint converts a caller-supplied constraint into the generic
// JSON shapes the agents understand ([]any, map[string]any or string).
// Strings holding a JSON list or object are decoded.
func NormalizeConstraint(c any) (any, error) {
	switch v := c.(type) {
	case nil:
		return nil, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded, nil
			}
		}
		return v, nil
	case []any, map[string]any:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("task: constraint: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return nil, fmt.Errorf("task: constraint: %w", err)
		}
		return decoded, nil
	}
}
