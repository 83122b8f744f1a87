package casebase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brunobiangulo/goextract/similarity"
	"github.com/brunobiangulo/goextract/task"
)

const (
	DefaultTopK             = 2
	DefaultNoveltyThreshold = 0.9
)

// Observer is notified of every insert decision.
type Observer interface {
	ObserveCaseInsert(task, outcome string, inserted bool)
}

// Options tunes a Repository.
type Options struct {
	TopK             int
	NoveltyThreshold float64
	Observer         Observer
}

// InsertResult reports what Insert did.
type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
	Skipped
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "skipped"
	}
}

// MarshalText encodes the result by name.
func (r InsertResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText decodes a name written by MarshalText.
func (r *InsertResult) UnmarshalText(b []byte) error {
	for _, v := range []InsertResult{Inserted, Duplicate, Skipped} {
		if v.String() == string(b) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("casebase: unknown insert result %q", b)
}

// bucket owns the cases and vectors of one (task, outcome) pair. cases[i]
// and vectors[i] describe the same record; both slices only ever grow and
// always grow together under mu.
type bucket struct {
	mu      sync.RWMutex
	cases   []Case
	vectors [][]float32
}

func (b *bucket) snapshot() ([]Case, [][]float32) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cases[:len(b.cases):len(b.cases)], b.vectors[:len(b.vectors):len(b.vectors)]
}

// Repository is the shared case corpus. It is safe for concurrent use. A nil
// *Repository is valid and behaves as an empty, unavailable corpus.
type Repository struct {
	embedder similarity.Embedder
	matcher  similarity.Matcher
	backend  Backend
	opts     Options

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	order   []Record // full corpus in insertion order, for backends that rewrite everything
	pending []Record
}

// New loads the corpus from backend and embeds every record that has no
// stored vector. Failing to embed makes the repository unusable, so New
// returns an error wrapping ErrUnavailable and callers run without one.
func New(ctx context.Context, embedder similarity.Embedder, matcher similarity.Matcher, backend Backend, opts Options) (*Repository, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.NoveltyThreshold <= 0 {
		opts.NoveltyThreshold = DefaultNoveltyThreshold
	}
	if matcher == nil {
		matcher = similarity.TokenSortMatcher{}
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}

	start := time.Now()
	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := embedMissing(ctx, embedder, backend, records); err != nil {
		return nil, fmt.Errorf("%w: embedding corpus: %v", ErrUnavailable, err)
	}

	r := &Repository{
		embedder: embedder,
		matcher:  matcher,
		backend:  backend,
		opts:     opts,
		buckets:  make(map[bucketKey]*bucket),
	}
	for _, rec := range records {
		b := r.bucket(rec.Task, rec.Outcome)
		b.cases = append(b.cases, rec.Case)
		b.vectors = append(b.vectors, rec.Vector)
		rec.Vector = nil
		r.order = append(r.order, rec)
	}

	slog.Info("casebase: corpus loaded",
		"cases", len(records),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return r, nil
}

func embedMissing(ctx context.Context, embedder similarity.Embedder, backend Backend, records []Record) error {
	var idx []int
	var texts []string
	for i, rec := range records {
		if len(rec.Vector) == 0 {
			idx = append(idx, i)
			texts = append(texts, rec.EmbedKey)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if embedder == nil {
		return fmt.Errorf("no embedder configured")
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	vw, canWrite := backend.(VectorWriter)
	for j, i := range idx {
		records[i].Vector = vecs[j]
		if canWrite && records[i].ID != 0 {
			if err := vw.SetVector(ctx, records[i].ID, vecs[j]); err != nil {
				slog.Warn("casebase: persisting vector failed", "case_id", records[i].ID, "error", err)
			}
		}
	}
	return nil
}

func (r *Repository) bucket(t task.Type, o Outcome) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := bucketKey{t, o}
	b, ok := r.buckets[k]
	if !ok {
		b = &bucket{}
		r.buckets[k] = b
	}
	return b
}

// Len returns the number of cases in a bucket.
func (r *Repository) Len(t task.Type, o Outcome) int {
	if r == nil {
		return 0
	}
	cases, _ := r.bucket(t, o).snapshot()
	return len(cases)
}

// TopK returns the configured number of examples per query.
func (r *Repository) TopK() int {
	if r == nil {
		return DefaultTopK
	}
	return r.opts.TopK
}

// Stats returns the size of every non-empty bucket, sorted by task then
// outcome.
func (r *Repository) Stats() []BucketStat {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	keys := make([]bucketKey, 0, len(r.buckets))
	for k := range r.buckets {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	var stats []BucketStat
	for _, k := range keys {
		if n := r.Len(k.task, k.outcome); n > 0 {
			stats = append(stats, BucketStat{Task: k.task, Outcome: k.outcome, Count: n})
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Task != stats[j].Task {
			return stats[i].Task < stats[j].Task
		}
		return stats[i].Outcome < stats[j].Outcome
	})
	return stats
}

func (r *Repository) embedOne(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, ErrUnavailable
	}
	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors", ErrUnavailable, len(vecs))
	}
	return vecs[0], nil
}

func (r *Repository) score(ctx context.Context, vec []float32, strKey string, cases []Case, vectors [][]float32) (similarity.Scores, error) {
	keys := make([]string, len(cases))
	for i, c := range cases {
		keys[i] = c.StrKey
	}
	lex, err := r.matcher.ScoreAll(ctx, strKey, keys)
	if err != nil {
		return similarity.Scores{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return similarity.Scores{Cosine: similarity.CosineAll(vec, vectors), Lexical: lex}, nil
}

// Query returns the contents of the k best matching cases in a bucket, best
// first. Equal ranking scores keep corpus order, so the same corpus and query
// always return the same list. On any failure the result is empty and the
// error says why.
func (r *Repository) Query(ctx context.Context, t task.Type, o Outcome, embedKey, strKey string, k int) ([]string, error) {
	if r == nil {
		return nil, ErrUnavailable
	}
	if k <= 0 {
		k = r.opts.TopK
	}
	cases, vectors := r.bucket(t, o).snapshot()
	if len(cases) == 0 {
		return nil, nil
	}
	vec, err := r.embedOne(ctx, embedKey)
	if err != nil {
		return nil, err
	}
	scores, err := r.score(ctx, vec, strKey, cases, vectors)
	if err != nil {
		return nil, err
	}

	top := similarity.TopK(scores.Ranking(), k)
	out := make([]string, len(top))
	for i, idx := range top {
		out[i] = cases[idx].Content
	}
	return out, nil
}

// InsertRequest describes a candidate case. Render produces the case
// content; it is only called once the keys passed the novelty check.
type InsertRequest struct {
	Task     task.Type
	Outcome  Outcome
	EmbedKey string
	StrKey   string
	Render   func(ctx context.Context) (string, error)
}

// Insert appends a case unless the bucket already holds a near-identical one.
// The novelty check runs once without blocking readers, and again under the
// bucket write lock right before the append, so concurrent inserts of the
// same keys store at most one case.
func (r *Repository) Insert(ctx context.Context, req InsertRequest) (InsertResult, error) {
	if r == nil {
		return Skipped, ErrUnavailable
	}
	vec, err := r.embedOne(ctx, req.EmbedKey)
	if err != nil {
		return Skipped, err
	}

	b := r.bucket(req.Task, req.Outcome)
	cases, vectors := b.snapshot()
	scores, err := r.score(ctx, vec, req.StrKey, cases, vectors)
	if err != nil {
		return Skipped, err
	}
	if best := scores.MaxAbsolute(); best >= r.opts.NoveltyThreshold {
		r.observe(req, false)
		slog.Warn("casebase: similar case already stored",
			"task", req.Task, "outcome", req.Outcome, "score", best)
		return Duplicate, nil
	}

	content := ""
	if req.Render != nil {
		content, err = req.Render(ctx)
		if err != nil {
			return Skipped, fmt.Errorf("rendering case: %w", err)
		}
	}

	b.mu.Lock()
	scores, err = r.score(ctx, vec, req.StrKey, b.cases, b.vectors)
	if err != nil {
		b.mu.Unlock()
		return Skipped, err
	}
	if best := scores.MaxAbsolute(); best >= r.opts.NoveltyThreshold {
		b.mu.Unlock()
		r.observe(req, false)
		slog.Warn("casebase: similar case stored concurrently",
			"task", req.Task, "outcome", req.Outcome, "score", best)
		return Duplicate, nil
	}
	c := Case{EmbedKey: req.EmbedKey, StrKey: req.StrKey, Content: content}
	b.cases = append(b.cases, c)
	b.vectors = append(b.vectors, vec)
	b.mu.Unlock()

	rec := Record{Task: req.Task, Outcome: req.Outcome, Case: c}
	r.mu.Lock()
	r.order = append(r.order, rec)
	rec.Vector = vec
	r.pending = append(r.pending, rec)
	r.mu.Unlock()

	r.observe(req, true)
	slog.Info("casebase: case stored", "task", req.Task, "outcome", req.Outcome)
	return Inserted, nil
}

func (r *Repository) observe(req InsertRequest, inserted bool) {
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveCaseInsert(string(req.Task), string(req.Outcome), inserted)
	}
}

// Persist flushes records appended since the last Persist to the backend.
func (r *Repository) Persist(ctx context.Context) error {
	if r == nil {
		return ErrUnavailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	all := append([]Record(nil), r.order...)
	if err := r.backend.Save(ctx, all, r.pending); err != nil {
		return fmt.Errorf("persisting cases: %w", err)
	}
	r.pending = nil
	return nil
}

// aligned reports whether every bucket holds exactly one vector per case.
func (r *Repository) aligned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets {
		b.mu.RLock()
		ok := len(b.cases) == len(b.vectors)
		b.mu.RUnlock()
		if !ok {
			return false
		}
	}
	return true
}
