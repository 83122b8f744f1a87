package casebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/brunobiangulo/goextract/store"
	"github.com/brunobiangulo/goextract/task"
)

// Backend persists the case corpus.
type Backend interface {
	// Load returns every stored record in insertion order.
	Load(ctx context.Context) ([]Record, error)
	// Save persists the corpus. all is the full corpus in insertion order;
	// pending are the records appended since the last successful Save.
	Save(ctx context.Context, all, pending []Record) error
}

// VectorWriter is implemented by backends that store embeddings. The
// repository uses it to persist vectors it had to compute on load.
type VectorWriter interface {
	SetVector(ctx context.Context, id int64, vec []float32) error
}

// --- memory ---

// MemoryBackend keeps the corpus in process. It is used for tests and for
// deployments that seed the corpus on every start.
type MemoryBackend struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryBackend returns a backend preloaded with seed.
func NewMemoryBackend(seed ...Record) *MemoryBackend {
	return &MemoryBackend{records: append([]Record(nil), seed...)}
}

func (m *MemoryBackend) Load(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...), nil
}

func (m *MemoryBackend) Save(ctx context.Context, all, pending []Record) error {
	m.mu.Lock()
	m.records = append(m.records, pending...)
	m.mu.Unlock()
	return nil
}

// --- JSON file ---

type docIndex struct {
	EmbedIndex string `json:"embed_index"`
	StrIndex   string `json:"str_index"`
}

type docEntry struct {
	Index   docIndex `json:"index"`
	Content string   `json:"content"`
}

type docBuckets struct {
	Good []docEntry `json:"good"`
	Bad  []docEntry `json:"bad"`
}

// Document is the on-disk shape of the JSON case store, keyed by task name.
type Document map[string]*docBuckets

// FileBackend stores the corpus as a single JSON document. Embeddings are
// not stored and are recomputed on load.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend reading and writing path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the document. A missing file is an empty corpus.
func (f *FileBackend) Load(ctx context.Context) ([]Record, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading case file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding case file %s: %w", f.path, err)
	}

	tasks := make([]string, 0, len(doc))
	for name := range doc {
		tasks = append(tasks, name)
	}
	sort.Strings(tasks)

	var records []Record
	for _, name := range tasks {
		t, err := task.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("case file %s: %w", f.path, err)
		}
		b := doc[name]
		if b == nil {
			continue
		}
		for _, e := range b.Good {
			records = append(records, fromEntry(t, Good, e))
		}
		for _, e := range b.Bad {
			records = append(records, fromEntry(t, Bad, e))
		}
	}
	return records, nil
}

func fromEntry(t task.Type, o Outcome, e docEntry) Record {
	return Record{Task: t, Outcome: o, Case: Case{
		EmbedKey: e.Index.EmbedIndex,
		StrKey:   e.Index.StrIndex,
		Content:  e.Content,
	}}
}

// Save rewrites the whole document atomically via a temp file and rename.
func (f *FileBackend) Save(ctx context.Context, all, pending []Record) error {
	doc := Document{}
	for _, t := range task.Types {
		doc[string(t)] = &docBuckets{Good: []docEntry{}, Bad: []docEntry{}}
	}
	for _, r := range all {
		b, ok := doc[string(r.Task)]
		if !ok {
			b = &docBuckets{Good: []docEntry{}, Bad: []docEntry{}}
			doc[string(r.Task)] = b
		}
		e := docEntry{Index: docIndex{EmbedIndex: r.EmbedKey, StrIndex: r.StrKey}, Content: r.Content}
		if r.Outcome == Good {
			b.Good = append(b.Good, e)
		} else {
			b.Bad = append(b.Bad, e)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating case directory: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing case file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing case file: %w", err)
	}
	return nil
}

// --- SQLite ---

// SQLiteBackend stores cases and their vectors in the goextract database.
type SQLiteBackend struct {
	store *store.Store
}

// NewSQLiteBackend returns a backend over s.
func NewSQLiteBackend(s *store.Store) *SQLiteBackend {
	return &SQLiteBackend{store: s}
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]Record, error) {
	rows, err := b.store.LoadCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading cases: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, c := range rows {
		t, err := task.ParseType(c.Task)
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", c.ID, err)
		}
		o, err := ParseOutcome(c.Outcome)
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", c.ID, err)
		}
		records = append(records, Record{
			ID:      c.ID,
			Task:    t,
			Outcome: o,
			Case:    Case{EmbedKey: c.EmbedKey, StrKey: c.StrKey, Content: c.Content},
			Vector:  c.Embedding,
		})
	}
	return records, nil
}

// Save inserts only the pending records; stored rows are never rewritten.
func (b *SQLiteBackend) Save(ctx context.Context, all, pending []Record) error {
	if len(pending) == 0 {
		return nil
	}
	rows := make([]store.Case, len(pending))
	for i, r := range pending {
		rows[i] = store.Case{
			Task:      string(r.Task),
			Outcome:   string(r.Outcome),
			EmbedKey:  r.EmbedKey,
			StrKey:    r.StrKey,
			Content:   r.Content,
			Embedding: r.Vector,
		}
	}
	if _, err := b.store.InsertCases(ctx, rows); err != nil {
		return fmt.Errorf("saving cases: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) SetVector(ctx context.Context, id int64, vec []float32) error {
	return b.store.SetCaseEmbedding(ctx, id, vec)
}
