package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Case repository: one row per stored good/bad example
CREATE TABLE IF NOT EXISTS cases (
    id INTEGER PRIMARY KEY,
    task TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK (outcome IN ('good', 'bad')),
    embed_key TEXT NOT NULL,
    str_key TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Case embeddings via sqlite-vec, keyed by cases.id
CREATE VIRTUAL TABLE IF NOT EXISTS vec_cases USING vec0(
    case_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search over case content
CREATE VIRTUAL TABLE IF NOT EXISTS cases_fts USING fts5(
    content,
    str_key,
    content='cases',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS cases_ai AFTER INSERT ON cases BEGIN
    INSERT INTO cases_fts(rowid, content, str_key) VALUES (new.id, new.content, new.str_key);
END;
CREATE TRIGGER IF NOT EXISTS cases_ad AFTER DELETE ON cases BEGIN
    INSERT INTO cases_fts(cases_fts, rowid, content, str_key) VALUES ('delete', old.id, old.content, old.str_key);
END;

-- Knowledge graph built from RE/Triple predictions
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    description TEXT,
    metadata JSON,
    UNIQUE(name, entity_type)
);

CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    weight REAL DEFAULT 1.0,
    extraction_id TEXT,
    metadata JSON,
    UNIQUE(source_entity_id, target_entity_id, relation_type)
);

-- Extraction audit log
CREATE TABLE IF NOT EXISTS extractions (
    id TEXT PRIMARY KEY,
    task TEXT NOT NULL,
    mode TEXT NOT NULL,
    instruction TEXT,
    prediction JSON,
    trajectory JSON,
    warnings JSON,
    chunks INTEGER DEFAULT 0,
    llm_calls INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_entity_id);
`, embeddingDim)
}
