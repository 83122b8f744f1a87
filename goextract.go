// Package goextract is a schema-guided information extraction engine. It
// derives an output schema, extracts structured data from text with a
// language model, optionally checks and repairs the result, and learns
// from corrected predictions through a repository of past cases.
package goextract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/goextract/agent"
	"github.com/brunobiangulo/goextract/casebase"
	"github.com/brunobiangulo/goextract/chunker"
	"github.com/brunobiangulo/goextract/graph"
	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/metrics"
	"github.com/brunobiangulo/goextract/parser"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/retrieval"
	"github.com/brunobiangulo/goextract/schema"
	"github.com/brunobiangulo/goextract/similarity"
	"github.com/brunobiangulo/goextract/store"
	"github.com/brunobiangulo/goextract/task"
)

// Request is one extraction job.
type Request struct {
	Task        task.Type `json:"task"`
	Instruction string    `json:"instruction,omitempty"`
	// Constraint is a string, a list or a mapping, depending on Task. A
	// string holding JSON is decoded.
	Constraint any    `json:"constraint,omitempty"`
	Text       string `json:"text,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	SchemaName string `json:"schema_name,omitempty"`
	// Mode is quick (default), standard, customized or a configured name.
	Mode string `json:"mode,omitempty"`
	// Custom gives the stage methods of the customized mode.
	Custom     *Mode `json:"custom,omitempty"`
	UpdateCase bool  `json:"update_case,omitempty"`
	// Truth is the expected answer as an object or a JSON string.
	Truth any `json:"truth,omitempty"`

	// ConfirmTruth is asked for the truth when UpdateCase is set and Truth
	// is empty. Without it the case update is skipped.
	ConfirmTruth func(ctx context.Context, prediction result.Result) (result.Result, error) `json:"-"`
}

// Response is the outcome of an extraction.
type Response struct {
	ID              string                 `json:"id"`
	Task            task.Type              `json:"task"`
	Mode            string                 `json:"mode"`
	Prediction      result.Result          `json:"prediction"`
	Trajectory      []task.Step            `json:"trajectory"`
	PrintableSchema string                 `json:"printable_schema,omitempty"`
	Warnings        []string               `json:"warnings,omitempty"`
	Chunks          int                    `json:"chunks"`
	LLMCalls        int64                  `json:"llm_calls"`
	CaseUpdate      *casebase.UpdateReport `json:"case_update,omitempty"`
	GraphTriples    int                    `json:"graph_triples,omitempty"`
	ElapsedMs       int64                  `json:"elapsed_ms"`
}

// Stats describes the state of the case repository and the database.
type Stats struct {
	Buckets           []casebase.BucketStat `json:"buckets"`
	RepositoryEnabled bool                  `json:"repository_enabled"`
	DB                *store.DBStats        `json:"db,omitempty"`
}

// Option configures New.
type Option func(*options)

type options struct {
	chat     llm.Provider
	embedder similarity.Embedder
}

// WithChatProvider uses p instead of the provider named in Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithEmbedder uses e instead of the embedder named in Config.Embedding.
func WithEmbedder(e similarity.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

type stageFunc func(ctx context.Context, st *task.State, extract agent.ExtractFunc) error

// Engine runs extraction requests. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	store      *store.Store
	client     *llm.Client
	cache      *similarity.CachedEmbedder
	repo       *casebase.Repository
	cases      *casebase.Handler
	catalog    *schema.Catalog
	schemas    *agent.SchemaAgent
	extraction *agent.ExtractionAgent
	reflection *agent.ReflectionAgent
	graphB     *graph.Builder
	modes      map[string]Mode
	stages     map[Method]stageFunc
	extractors map[Method]agent.ExtractFunc
	recorder   metrics.Recorder
}

// New creates an engine from cfg. Every configured mode is validated
// against the method table. A case repository that cannot be loaded is
// logged and the engine runs without one.
func New(cfg Config, opts ...Option) (*Engine, error) {
	def := DefaultConfig()
	if cfg.CaseStore == "" {
		cfg.CaseStore = def.CaseStore
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = def.EmbeddingDim
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	modes := make(map[string]Mode, len(BuiltinModes)+len(cfg.Modes))
	for name, m := range BuiltinModes {
		modes[name] = m
	}
	for name, m := range cfg.Modes {
		if name == ModeCustomized {
			return nil, fmt.Errorf("%w: mode name %q is reserved", ErrInvalidConfig, name)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mode %q: %w", name, err)
		}
		modes[name] = m
	}

	catalog := schema.NewCatalog()
	if cfg.SchemaFile != "" {
		n, err := catalog.LoadFile(cfg.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		slog.Info("goextract: user schemas loaded", "file", cfg.SchemaFile, "count", n)
	}

	chat := o.chat
	if chat == nil {
		var err error
		chat, err = llm.NewProvider(cfg.Chat.provider())
		if err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	client := llm.NewClient(chat, llm.ClientConfig{
		Model:          cfg.Chat.Model,
		Sampling:       cfg.Sampling,
		CallTimeout:    cfg.CallTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		ExtractionOnly: cfg.Chat.ExtractionOnly,
		Observer:       metrics.Recorder{},
	})

	embedder := o.embedder
	if embedder == nil {
		if cfg.Embedding.Provider == "hash" {
			embedder = similarity.NewHashEmbedder(cfg.EmbeddingDim)
		} else {
			p, err := llm.NewProvider(cfg.Embedding.provider())
			if err != nil {
				return nil, fmt.Errorf("creating embedding provider: %w", err)
			}
			embedder = p
		}
	}
	cache, err := similarity.NewCachedEmbedder(embedder, cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		client:  client,
		cache:   cache,
		catalog: catalog,
		modes:   modes,
	}

	if cfg.CaseStore != CaseStoreMemory || cfg.GraphSink {
		dbPath := cfg.resolveDBPath()
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			cache.Close()
			return nil, fmt.Errorf("creating storage dir: %w", err)
		}
		s, err := store.New(dbPath, cfg.EmbeddingDim)
		if err != nil {
			cache.Close()
			return nil, fmt.Errorf("opening store: %w", err)
		}
		e.store = s
	}

	var backend casebase.Backend
	switch cfg.CaseStore {
	case CaseStoreSQLite:
		backend = casebase.NewSQLiteBackend(e.store)
	case CaseStoreJSON:
		backend = casebase.NewFileBackend(cfg.CaseFile)
	case CaseStoreMemory:
		backend = casebase.NewMemoryBackend()
	default:
		e.Close()
		return nil, fmt.Errorf("%w: case_store %q", ErrInvalidConfig, cfg.CaseStore)
	}

	repo, err := casebase.New(context.Background(), cache, similarity.TokenSortMatcher{}, backend, casebase.Options{
		TopK:             cfg.TopK,
		NoveltyThreshold: cfg.NoveltyThreshold,
		Observer:         metrics.Recorder{},
	})
	if err != nil {
		slog.Warn("goextract: case repository unavailable, running without examples", "error", err)
		repo = nil
	}
	e.repo = repo
	e.cases = casebase.NewHandler(repo, client)

	chunks := chunker.New(chunker.Config{TokenLimit: cfg.ChunkTokenLimit}, parser.NewRegistry())
	e.schemas = agent.NewSchemaAgent(client, catalog, chunks, cfg.DefaultSchema)
	e.extraction = agent.NewExtractionAgent(client, e.cases, catalog, agent.ExtractionConfig{
		Concurrency: cfg.Concurrency,
		Compatible:  client.ExtractionOnly(),
	})
	e.reflection = agent.NewReflectionAgent(client, e.cases)
	if cfg.GraphSink {
		e.graphB = graph.NewBuilder(e.store)
	}

	e.extractors = map[Method]agent.ExtractFunc{
		MethodExtractDirect:   e.extraction.ExtractDirect,
		MethodExtractWithCase: e.extraction.ExtractWithCase,
	}
	e.stages = map[Method]stageFunc{
		MethodDefaultSchema: func(ctx context.Context, st *task.State, _ agent.ExtractFunc) error {
			return e.schemas.DefaultSchema(ctx, st)
		},
		MethodRetrievedSchema: func(ctx context.Context, st *task.State, _ agent.ExtractFunc) error {
			return e.schemas.RetrievedSchema(ctx, st)
		},
		MethodDeducedSchema: func(ctx context.Context, st *task.State, _ agent.ExtractFunc) error {
			return e.schemas.DeducedSchema(ctx, st)
		},
		MethodExtractDirect: func(ctx context.Context, st *task.State, _ agent.ExtractFunc) error {
			return e.extraction.Direct(ctx, st)
		},
		MethodExtractWithCase: func(ctx context.Context, st *task.State, _ agent.ExtractFunc) error {
			return e.extraction.WithCase(ctx, st)
		},
		MethodReflectWithCase: func(ctx context.Context, st *task.State, extract agent.ExtractFunc) error {
			return e.reflection.ReflectWithCase(ctx, st, extract)
		},
	}
	for m := range methodStages {
		if _, ok := e.stages[m]; !ok {
			e.Close()
			return nil, fmt.Errorf("%w: %q has no implementation", ErrUnknownMethod, m)
		}
	}

	slog.Info("goextract: engine ready",
		"chat", cfg.Chat.Provider, "model", cfg.Chat.Model,
		"case_store", cfg.CaseStore, "cases", repo != nil,
		"extraction_only", client.ExtractionOnly())
	return e, nil
}

// Extract runs req through the schema, extraction and reflection stages of
// its mode, merges the chunk results and, when asked, learns from the
// truth.
func (e *Engine) Extract(ctx context.Context, req Request) (*Response, error) {
	resp, err := e.extract(ctx, req)
	mode := req.Mode
	if resp != nil {
		mode = resp.Mode
	}
	e.recorder.ObserveExtraction(string(req.Task), mode, err)
	return resp, err
}

func (e *Engine) extract(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	t, err := task.ParseType(string(req.Task))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	modeName := req.Mode
	if modeName == "" {
		modeName = ModeQuick
	}
	custom := req.Custom
	updateCase := req.UpdateCase

	var notes []string
	if e.client.ExtractionOnly() {
		if t == task.Base || t == task.Triple {
			return nil, fmt.Errorf("%w: extraction-only models run NER, RE and EE, not %s", ErrUnsupportedTask, t)
		}
		if modeName != ModeQuick || updateCase {
			notes = append(notes, "extraction-only model: quick mode without case update used")
		}
		modeName, custom, updateCase = ModeQuick, nil, false
	}

	if req.Text == "" && req.FilePath == "" {
		return nil, ErrNoInput
	}
	if req.Text != "" && req.FilePath != "" {
		return nil, fmt.Errorf("%w: text and file_path are exclusive", ErrInvalidRequest)
	}

	var mode Mode
	named := true
	if modeName == ModeCustomized {
		if custom != nil {
			mode = *custom
		}
		if err := mode.Validate(); err != nil {
			return nil, err
		}
		named = false
	} else {
		m, ok := e.modes[modeName]
		if !ok {
			return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownMode, modeName, modeNames(e.modes))
		}
		mode = m
	}

	constraint, err := task.NormalizeConstraint(req.Constraint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	instruction := req.Instruction
	schemaName := req.SchemaName
	if t == task.Base {
		if instruction == "" && result.IsEmpty(constraint) {
			return nil, fmt.Errorf("%w: Base tasks need an instruction or a constraint", ErrInvalidRequest)
		}
	} else {
		if instruction == "" {
			instruction = e.cfg.instruction(t)
		}
		if schemaName == "" {
			schemaName = agent.TaskSchemas[t]
		}
	}
	truth, hasTruth, err := toResult(req.Truth)
	if err != nil {
		return nil, fmt.Errorf("%w: truth: %v", ErrInvalidRequest, err)
	}

	st := task.New(task.Input{
		Task:        t,
		Instruction: instruction,
		Constraint:  constraint,
		Text:        req.Text,
		FilePath:    req.FilePath,
		SchemaName:  schemaName,
		Truth:       truth,
		HasTruth:    hasTruth,
	})
	for _, n := range notes {
		st.Warn("%s", n)
	}

	var calls atomic.Int64
	ctx = llm.WithCallCounter(ctx, &calls)

	slog.Info("goextract: extraction started", "request_id", st.ID, "task", t, "mode", modeName)
	var extract agent.ExtractFunc
	for _, s := range plan(t, mode, named) {
		stageStart := time.Now()
		if s.stage == StageExtraction {
			extract = e.extractors[s.method]
		}
		if err := e.stages[s.method](ctx, st, extract); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, s.method, err)
		}
		e.recorder.ObserveStage(s.stage.String(), string(s.method), time.Since(stageStart))
	}
	if err := e.extraction.Summarize(ctx, st); err != nil {
		return nil, fmt.Errorf("%w: summarize: %w", ErrExtractionFailed, err)
	}

	resp := &Response{
		ID:   st.ID,
		Task: t,
		Mode: modeName,
	}

	if updateCase {
		report, err := e.updateCases(ctx, st, req)
		if err != nil {
			return nil, err
		}
		resp.CaseUpdate = report
	}

	if e.graphB != nil {
		if triples := graph.TriplesFrom(t, st.Prediction); len(triples) > 0 {
			n, err := e.graphB.Build(ctx, st.ID, triples)
			if err != nil {
				st.Warn("graph sink: %v", err)
			}
			resp.GraphTriples = n
		}
	}

	resp.Prediction = st.Prediction
	resp.Trajectory = st.Trajectory()
	resp.PrintableSchema = st.PrintableSchema
	resp.Warnings = st.Warnings
	resp.Chunks = len(st.Chunks)
	resp.LLMCalls = calls.Load()
	resp.ElapsedMs = time.Since(start).Milliseconds()

	e.logExtraction(ctx, st, resp)
	slog.Info("goextract: extraction finished",
		"request_id", st.ID, "chunks", resp.Chunks, "llm_calls", resp.LLMCalls,
		"warnings", len(resp.Warnings), "elapsed", time.Since(start).Round(time.Millisecond))
	return resp, nil
}

func (e *Engine) updateCases(ctx context.Context, st *task.State, req Request) (*casebase.UpdateReport, error) {
	truth, ok := st.Truth, st.HasTruth
	if !ok && req.ConfirmTruth != nil {
		confirmed, err := req.ConfirmTruth(ctx, st.Prediction)
		if err != nil {
			return nil, fmt.Errorf("confirming truth: %w", err)
		}
		truth, ok = confirmed, !confirmed.IsZero()
	}
	if !ok {
		st.Warn("case update skipped: no truth given")
		return nil, nil
	}
	report, err := e.cases.Update(ctx, st, truth)
	if err != nil {
		return nil, fmt.Errorf("%w: case update: %w", ErrExtractionFailed, err)
	}
	return &report, nil
}

func (e *Engine) logExtraction(ctx context.Context, st *task.State, resp *Response) {
	if e.store == nil {
		return
	}
	err := e.store.LogExtraction(ctx, store.Extraction{
		ID:          resp.ID,
		Task:        string(resp.Task),
		Mode:        resp.Mode,
		Instruction: st.Instruction,
		Prediction:  json.RawMessage(result.Marshal(resp.Prediction)),
		Trajectory:  json.RawMessage(result.Marshal(resp.Trajectory)),
		Warnings:    resp.Warnings,
		Chunks:      resp.Chunks,
		LLMCalls:    int(resp.LLMCalls),
		DurationMs:  resp.ElapsedMs,
	})
	if err != nil {
		slog.Warn("goextract: logging extraction failed", "request_id", resp.ID, "error", err)
	}
}

// toResult converts a caller-supplied truth into a Result. Empty values
// report false.
func toResult(v any) (result.Result, bool, error) {
	switch x := v.(type) {
	case nil:
		return result.Result{}, false, nil
	case result.Result:
		return x, !x.IsZero(), nil
	case string:
		if x == "" {
			return result.Result{}, false, nil
		}
		return result.Parse(x), true, nil
	case map[string]any:
		return result.Structured(x), len(x) > 0, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return result.Result{}, false, err
		}
		var r result.Result
		if err := json.Unmarshal(b, &r); err != nil {
			return result.Result{}, false, err
		}
		return r, !r.IsZero(), nil
	}
}

// Stats reports the case repository buckets and, with a database, row
// counts.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{Buckets: e.repo.Stats(), RepositoryEnabled: e.repo != nil}
	if e.store != nil {
		db, err := e.store.DBStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading db stats: %w", err)
		}
		s.DB = db
	}
	return s, nil
}

// Schemas returns every catalog definition, sorted by name.
func (e *Engine) Schemas() []schema.Definition {
	names := e.catalog.Names()
	out := make([]schema.Definition, 0, len(names))
	for _, n := range names {
		if d, ok := e.catalog.Get(n); ok {
			out = append(out, d)
		}
	}
	return out
}

// Modes returns the names of every usable mode.
func (e *Engine) Modes() []string { return modeNames(e.modes) }

// Extraction returns a logged extraction by request ID.
func (e *Engine) Extraction(ctx context.Context, id string) (*store.Extraction, error) {
	if e.store == nil {
		return nil, store.ErrNotFound
	}
	return e.store.GetExtraction(ctx, id)
}

// SearchCases finds stored cases matching query, fusing embedding
// similarity with keyword matches. taskName may be empty.
func (e *Engine) SearchCases(ctx context.Context, query, taskName string, limit int) ([]store.Case, *retrieval.Trace, error) {
	if e.store == nil {
		return nil, nil, ErrNoStore
	}
	if taskName != "" {
		t, err := task.ParseType(taskName)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		taskName = string(t)
	}
	var embedder similarity.Embedder
	if e.cache != nil {
		embedder = e.cache
	}
	return retrieval.New(e.store, embedder).Search(ctx, query, retrieval.Options{Task: taskName, MaxResults: limit})
}

// Store returns the underlying store, or nil when running in memory.
func (e *Engine) Store() *store.Store { return e.store }

// Repository returns the case repository, or nil when unavailable.
func (e *Engine) Repository() *casebase.Repository { return e.repo }

// Close cleanly shuts down the engine.
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// IsClientError reports whether err was caused by the request rather than
// by the engine or the model.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNoInput) ||
		errors.Is(err, ErrUnknownMode) ||
		errors.Is(err, ErrUnknownMethod) ||
		errors.Is(err, ErrUnsupportedTask)
}
