package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Case represents a row in the cases table plus its embedding, if stored.
type Case struct {
	ID        int64     `json:"id"`
	Task      string    `json:"task"`
	Outcome   string    `json:"outcome"`
	EmbedKey  string    `json:"embed_key"`
	StrKey    string    `json:"str_key"`
	Content   string    `json:"content"`
	CreatedAt string    `json:"created_at,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Embedding []float32 `json:"-"`
}

// BucketCount is the number of cases stored for one (task, outcome) pair.
type BucketCount struct {
	Task    string `json:"task"`
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// Entity represents a row in the entities table.
type Entity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// Relationship represents a row in the relationships table.
type Relationship struct {
	ID             int64   `json:"id"`
	SourceEntityID int64   `json:"source_entity_id"`
	TargetEntityID int64   `json:"target_entity_id"`
	RelationType   string  `json:"relation_type"`
	Weight         float64 `json:"weight"`
	ExtractionID   string  `json:"extraction_id,omitempty"`
	Metadata       string  `json:"metadata,omitempty"`
}

// Extraction represents a row in the extractions audit log.
type Extraction struct {
	ID          string          `json:"id"`
	Task        string          `json:"task"`
	Mode        string          `json:"mode"`
	Instruction string          `json:"instruction,omitempty"`
	Prediction  json.RawMessage `json:"prediction,omitempty"`
	Trajectory  json.RawMessage `json:"trajectory,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Chunks      int             `json:"chunks"`
	LLMCalls    int             `json:"llm_calls"`
	DurationMs  int64           `json:"duration_ms"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// Store wraps the SQLite database for all goextract persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Case operations ---

// InsertCases stores cases and their embeddings in one transaction and
// returns the new IDs in input order. An embedding whose size does not match
// the store's dimension is skipped; the case is re-embedded on next load.
func (s *Store) InsertCases(ctx context.Context, cases []Case) ([]int64, error) {
	ids := make([]int64, 0, len(cases))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cases (task, outcome, embed_key, str_key, content)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range cases {
			res, err := stmt.ExecContext(ctx, c.Task, c.Outcome, c.EmbedKey, c.StrKey, c.Content)
			if err != nil {
				return fmt.Errorf("inserting case: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)

			if len(c.Embedding) == 0 {
				continue
			}
			if len(c.Embedding) != s.embeddingDim {
				slog.Warn("store: embedding dimension mismatch, vector not persisted",
					"case_id", id, "got", len(c.Embedding), "want", s.embeddingDim)
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_cases (case_id, embedding) VALUES (?, ?)",
				id, serializeFloat32(c.Embedding)); err != nil {
				return fmt.Errorf("inserting case embedding: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SetCaseEmbedding stores or replaces the embedding of an existing case.
func (s *Store) SetCaseEmbedding(ctx context.Context, caseID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension %d, store expects %d", len(embedding), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_cases WHERE case_id = ?", caseID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO vec_cases (case_id, embedding) VALUES (?, ?)",
			caseID, serializeFloat32(embedding))
		return err
	})
}

// LoadCases returns every case in insertion order, with embeddings attached
// where one is stored.
func (s *Store) LoadCases(ctx context.Context) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.task, c.outcome, c.embed_key, c.str_key, c.content, c.created_at, v.embedding
		FROM cases c
		LEFT JOIN vec_cases v ON v.case_id = c.id
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		var c Case
		var created sql.NullString
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Task, &c.Outcome, &c.EmbedKey, &c.StrKey, &c.Content, &created, &blob); err != nil {
			return nil, err
		}
		c.CreatedAt = created.String
		if len(blob) > 0 {
			c.Embedding = deserializeFloat32(blob)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// CaseCounts returns the number of cases per bucket.
func (s *Store) CaseCounts(ctx context.Context) ([]BucketCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task, outcome, COUNT(*) FROM cases
		GROUP BY task, outcome
		ORDER BY task, outcome
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []BucketCount
	for rows.Next() {
		var b BucketCount
		if err := rows.Scan(&b.Task, &b.Outcome, &b.Count); err != nil {
			return nil, err
		}
		counts = append(counts, b)
	}
	return counts, rows.Err()
}

// SearchCases runs a full-text search over case content using FTS5 BM25
// ranking. An empty task matches every task.
func (s *Store) SearchCases(ctx context.Context, query, task string, limit int) ([]Case, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.task, c.outcome, c.embed_key, c.str_key, c.content, c.created_at
		FROM cases_fts f
		JOIN cases c ON c.id = f.rowid
		WHERE cases_fts MATCH ? AND (? = '' OR c.task = ?)
		ORDER BY f.rank
		LIMIT ?
	`, match, task, task, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		var c Case
		var created sql.NullString
		if err := rows.Scan(&c.ID, &c.Task, &c.Outcome, &c.EmbedKey, &c.StrKey, &c.Content, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = created.String
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// SearchCaseVectors returns the k cases nearest to embedding, closest first.
// Score is 1 - distance. A non-empty task filters after the KNN scan, so
// fewer than k cases may come back.
func (s *Store) SearchCaseVectors(ctx context.Context, embedding []float32, task string, k int) ([]Case, error) {
	if len(embedding) != s.embeddingDim {
		return nil, fmt.Errorf("embedding dimension %d, store expects %d", len(embedding), s.embeddingDim)
	}
	if k <= 0 {
		k = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.task, c.outcome, c.embed_key, c.str_key, c.content, c.created_at, v.distance
		FROM vec_cases v
		JOIN cases c ON c.id = v.case_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		var c Case
		var created sql.NullString
		var distance float64
		if err := rows.Scan(&c.ID, &c.Task, &c.Outcome, &c.EmbedKey, &c.StrKey, &c.Content, &created, &distance); err != nil {
			return nil, err
		}
		if task != "" && c.Task != task {
			continue
		}
		c.CreatedAt = created.String
		c.Score = 1 - distance
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms so user
// input never reaches the FTS5 syntax parser unescaped.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 1 {
			parts = append(parts, `"`+w+`"`)
		}
	}
	return strings.Join(parts, " OR ")
}

// --- Entity operations ---

// UpsertEntity inserts or updates an entity. Returns the entity ID.
func (s *Store) UpsertEntity(ctx context.Context, e Entity) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = upsertEntityTx(ctx, tx, e)
		return err
	})
	return id, err
}

func upsertEntityTx(ctx context.Context, tx *sql.Tx, e Entity) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (name, entity_type, description, metadata)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''))
		ON CONFLICT(name, entity_type) DO UPDATE SET
			description = COALESCE(excluded.description, entities.description),
			metadata = COALESCE(excluded.metadata, entities.metadata)
	`, e.Name, e.EntityType, e.Description, e.Metadata); err != nil {
		return 0, err
	}

	// LastInsertId is unreliable on the conflict path, so read the row back.
	var id int64
	row := tx.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE name = ? AND entity_type = ?",
		e.Name, e.EntityType)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertTriple stores head and tail entities and the relationship between
// them in one transaction. A repeated triple bumps the relationship weight.
func (s *Store) UpsertTriple(ctx context.Context, head, tail Entity, relation, extractionID string) (int64, error) {
	var relID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		headID, err := upsertEntityTx(ctx, tx, head)
		if err != nil {
			return fmt.Errorf("head entity: %w", err)
		}
		tailID, err := upsertEntityTx(ctx, tx, tail)
		if err != nil {
			return fmt.Errorf("tail entity: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (source_entity_id, target_entity_id, relation_type, weight, extraction_id)
			VALUES (?, ?, ?, 1.0, ?)
			ON CONFLICT(source_entity_id, target_entity_id, relation_type) DO UPDATE SET
				weight = relationships.weight + 1.0,
				extraction_id = excluded.extraction_id
		`, headID, tailID, relation, extractionID); err != nil {
			return fmt.Errorf("relationship: %w", err)
		}
		return tx.QueryRowContext(ctx, `
			SELECT id FROM relationships
			WHERE source_entity_id = ? AND target_entity_id = ? AND relation_type = ?
		`, headID, tailID, relation).Scan(&relID)
	})
	return relID, err
}

// GetEntitiesByNames returns entities matching any of the given names.
func (s *Store) GetEntitiesByNames(ctx context.Context, names []string) ([]Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := "SELECT id, name, entity_type, COALESCE(description, ''), COALESCE(metadata, '') FROM entities WHERE name IN (?" +
		repeatPlaceholders(len(names)-1) + ") ORDER BY id"

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// AllEntities returns every entity in the database.
func (s *Store) AllEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, entity_type, COALESCE(description, ''), COALESCE(metadata, '') FROM entities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.Metadata); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// AllRelationships returns every relationship in the database.
func (s *Store) AllRelationships(ctx context.Context) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_entity_id, target_entity_id, relation_type, weight,
			COALESCE(extraction_id, ''), COALESCE(metadata, '')
		FROM relationships ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID,
			&r.RelationType, &r.Weight, &r.ExtractionID, &r.Metadata); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// --- Extraction log ---

// LogExtraction writes an entry to the extraction audit log.
func (s *Store) LogExtraction(ctx context.Context, x Extraction) error {
	warnings, err := json.Marshal(x.Warnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extractions (id, task, mode, instruction, prediction, trajectory, warnings, chunks, llm_calls, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, x.ID, x.Task, x.Mode, x.Instruction, string(x.Prediction), string(x.Trajectory), string(warnings),
		x.Chunks, x.LLMCalls, x.DurationMs)
	return err
}

// GetExtraction returns a logged extraction by request ID.
func (s *Store) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	var x Extraction
	var instruction, prediction, trajectory, warnings, created sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task, mode, instruction, prediction, trajectory, warnings, chunks, llm_calls, duration_ms, created_at
		FROM extractions WHERE id = ?
	`, id).Scan(&x.ID, &x.Task, &x.Mode, &instruction, &prediction, &trajectory, &warnings,
		&x.Chunks, &x.LLMCalls, &x.DurationMs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	x.Instruction = instruction.String
	x.CreatedAt = created.String
	if prediction.Valid && prediction.String != "" {
		x.Prediction = json.RawMessage(prediction.String)
	}
	if trajectory.Valid && trajectory.String != "" {
		x.Trajectory = json.RawMessage(trajectory.String)
	}
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &x.Warnings); err != nil {
			return nil, fmt.Errorf("decoding warnings: %w", err)
		}
	}
	return &x, nil
}

// --- Stats ---

// DBStats holds row counts per table.
type DBStats struct {
	Cases         int `json:"cases"`
	Embeddings    int `json:"embeddings"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Extractions   int `json:"extractions"`
}

// DBStats returns row counts for the main tables.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM cases", &stats.Cases},
		{"SELECT COUNT(*) FROM vec_cases", &stats.Embeddings},
		{"SELECT COUNT(*) FROM entities", &stats.Entities},
		{"SELECT COUNT(*) FROM relationships", &stats.Relationships},
		{"SELECT COUNT(*) FROM extractions", &stats.Extractions},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	return strings.Repeat(", ?", n)
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
