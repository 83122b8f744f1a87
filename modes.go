package goextract

import (
	"fmt"
	"sort"

	"github.com/brunobiangulo/goextract/agent"
	"github.com/brunobiangulo/goextract/task"
)

// Method identifies one agent operation.
type Method string

const (
	MethodDefaultSchema   Method = agent.MethodDefaultSchema
	MethodRetrievedSchema Method = agent.MethodRetrievedSchema
	MethodDeducedSchema   Method = agent.MethodDeducedSchema
	MethodExtractDirect   Method = agent.MethodExtractDirect
	MethodExtractWithCase Method = agent.MethodExtractWithCase
	MethodReflectWithCase Method = agent.MethodReflectWithCase
)

// Stage is one step of the pipeline. Stages always run in declaration order.
type Stage int

const (
	StageSchema Stage = iota
	StageExtraction
	StageReflection
)

func (s Stage) String() string {
	switch s {
	case StageSchema:
		return "schema"
	case StageExtraction:
		return "extraction"
	default:
		return "reflection"
	}
}

// methodStages is the method table: every valid method and its stage.
var methodStages = map[Method]Stage{
	MethodDefaultSchema:   StageSchema,
	MethodRetrievedSchema: StageSchema,
	MethodDeducedSchema:   StageSchema,
	MethodExtractDirect:   StageExtraction,
	MethodExtractWithCase: StageExtraction,
	MethodReflectWithCase: StageReflection,
}

// Mode maps each stage to a method. An empty field skips the stage, except
// that schema and extraction are always filled in with defaults.
type Mode struct {
	Schema     Method `json:"schema_agent,omitempty" yaml:"schema_agent,omitempty"`
	Extraction Method `json:"extraction_agent,omitempty" yaml:"extraction_agent,omitempty"`
	Reflection Method `json:"reflection_agent,omitempty" yaml:"reflection_agent,omitempty"`
}

// Mode names.
const (
	ModeQuick      = "quick"
	ModeStandard   = "standard"
	ModeCustomized = "customized"
)

// BuiltinModes are always available.
var BuiltinModes = map[string]Mode{
	ModeQuick: {
		Schema:     MethodDeducedSchema,
		Extraction: MethodExtractDirect,
	},
	ModeStandard: {
		Schema:     MethodDeducedSchema,
		Extraction: MethodExtractWithCase,
		Reflection: MethodReflectWithCase,
	},
}

// Validate checks that every method exists and belongs to its stage.
func (m Mode) Validate() error {
	for _, s := range []struct {
		stage  Stage
		method Method
	}{
		{StageSchema, m.Schema},
		{StageExtraction, m.Extraction},
		{StageReflection, m.Reflection},
	} {
		if s.method == "" {
			continue
		}
		got, ok := methodStages[s.method]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMethod, s.method)
		}
		if got != s.stage {
			return fmt.Errorf("%w: %q is a %s method, not %s", ErrUnknownMethod, s.method, got, s.stage)
		}
	}
	return nil
}

// step is one resolved stage of a plan.
type step struct {
	stage  Stage
	method Method
}

// plan fills in the defaults of m for task t and returns the stages to
// run. Named modes use the retrieved schema for every typed task; a
// customized mode keeps the schema method it names.
func plan(t task.Type, m Mode, named bool) []step {
	if m.Schema == "" || (named && t != task.Base) {
		if t == task.Base {
			m.Schema = MethodDefaultSchema
		} else {
			m.Schema = MethodRetrievedSchema
		}
	}
	if m.Extraction == "" {
		m.Extraction = MethodExtractDirect
	}
	steps := []step{
		{StageSchema, m.Schema},
		{StageExtraction, m.Extraction},
	}
	if m.Reflection != "" {
		steps = append(steps, step{StageReflection, m.Reflection})
	}
	return steps
}

func modeNames(modes map[string]Mode) []string {
	names := make([]string, 0, len(modes)+1)
	for n := range modes {
		names = append(names, n)
	}
	names = append(names, ModeCustomized)
	sort.Strings(names)
	return names
}
