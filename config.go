package goextract

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/goextract/agent"
	"github.com/brunobiangulo/goextract/chunker"
	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/task"
)

// Case store backends.
const (
	CaseStoreSQLite = "sqlite"
	CaseStoreJSON   = "json"
	CaseStoreMemory = "memory"
)

// Config holds all configuration for the extraction engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goextract/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goextract/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Embedding.Provider may also be "hash" for the offline
	// feature-hashing embedder.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
	// EmbeddingCacheSize bounds the number of cached query vectors.
	EmbeddingCacheSize int64 `json:"embedding_cache_size" yaml:"embedding_cache_size"`

	// Case repository
	CaseStore        string  `json:"case_store" yaml:"case_store"` // sqlite, json, memory
	CaseFile         string  `json:"case_file" yaml:"case_file"`   // document for the json store
	TopK             int     `json:"top_k" yaml:"top_k"`
	NoveltyThreshold float64 `json:"novelty_threshold" yaml:"novelty_threshold"`

	// Chunking and extraction
	ChunkTokenLimit int `json:"chunk_token_limit" yaml:"chunk_token_limit"`
	Concurrency     int `json:"concurrency" yaml:"concurrency"` // chunks extracted at once

	// Schemas
	DefaultSchema string `json:"default_schema" yaml:"default_schema"`
	SchemaFile    string `json:"schema_file" yaml:"schema_file"` // user catalog, YAML or JSON

	// Instructions holds the instruction used per task when a request
	// leaves it empty.
	Instructions map[string]string `json:"instructions" yaml:"instructions"`

	// Modes adds named modes next to quick and standard.
	Modes map[string]Mode `json:"modes" yaml:"modes"`

	// LLM call policy
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Sampling    llm.Sampling  `json:"sampling" yaml:"sampling"`

	// GraphSink stores RE and Triple predictions in the knowledge graph
	// tables.
	GraphSink bool `json:"graph_sink" yaml:"graph_sink"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom, hash
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// ExtractionOnly marks a chat model fine-tuned for NER, RE and EE
	// with a fixed JSON prompt.
	ExtractionOnly bool `json:"extraction_only" yaml:"extraction_only"`
}

func (c LLMConfig) provider() llm.Config {
	return llm.Config{
		Provider:       c.Provider,
		Model:          c.Model,
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		ExtractionOnly: c.ExtractionOnly,
	}
}

// DefaultInstructions are the per-task instructions used when neither the
// request nor the configuration gives one.
var DefaultInstructions = map[string]string{
	string(task.NER):    "Extract the Named Entities in the given text.",
	string(task.RE):     "Extract Relationships between Named Entities in the given text.",
	string(task.EE):     "Extract the Events in the given text.",
	string(task.Triple): "Extract the Triples (subject, relation, object) from the given text, hope that all the relationships for each entity can be extracted.",
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.goextract/goextract.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "goextract",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:       768,
		EmbeddingCacheSize: 4096,
		CaseStore:          CaseStoreSQLite,
		CaseFile:           "case_repository.json",
		TopK:               2,
		NoveltyThreshold:   0.9,
		ChunkTokenLimit:    chunker.DefaultTokenLimit,
		Concurrency:        4,
		DefaultSchema:      agent.DefaultSchemaText,
		CallTimeout:        2 * time.Minute,
		MaxAttempts:        3,
		Sampling:           llm.DefaultSampling(),
	}
}

// instruction returns the default instruction for t.
func (c *Config) instruction(t task.Type) string {
	if s := c.Instructions[string(t)]; s != "" {
		return s
	}
	return DefaultInstructions[string(t)]
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goextract"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".goextract")
		return filepath.Join(dir, name+".db")
	}
}

// LoadConfig reads a YAML or JSON file over DefaultConfig and then applies
// GOEXTRACT_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GOEXTRACT_* environment variables and
// fills missing API keys from the provider's well-known variable.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"GOEXTRACT_DB_PATH":        &c.DBPath,
		"GOEXTRACT_CHAT_PROVIDER":  &c.Chat.Provider,
		"GOEXTRACT_CHAT_MODEL":     &c.Chat.Model,
		"GOEXTRACT_CHAT_BASE_URL":  &c.Chat.BaseURL,
		"GOEXTRACT_CHAT_API_KEY":   &c.Chat.APIKey,
		"GOEXTRACT_EMBED_PROVIDER": &c.Embedding.Provider,
		"GOEXTRACT_EMBED_MODEL":    &c.Embedding.Model,
		"GOEXTRACT_EMBED_BASE_URL": &c.Embedding.BaseURL,
		"GOEXTRACT_EMBED_API_KEY":  &c.Embedding.APIKey,
		"GOEXTRACT_CASE_STORE":     &c.CaseStore,
		"GOEXTRACT_CASE_FILE":      &c.CaseFile,
		"GOEXTRACT_SCHEMA_FILE":    &c.SchemaFile,
	}
	for key, field := range str {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("GOEXTRACT_EMBEDDING_DIM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GOEXTRACT_EMBEDDING_DIM: %v", ErrInvalidConfig, err)
		}
		c.EmbeddingDim = n
	}
	if v := os.Getenv("GOEXTRACT_EXTRACTION_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: GOEXTRACT_EXTRACTION_ONLY: %v", ErrInvalidConfig, err)
		}
		c.Chat.ExtractionOnly = b
	}

	// Fallback: check well-known provider env vars for API keys.
	if c.Chat.APIKey == "" {
		c.Chat.APIKey = providerKey(c.Chat.Provider)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKey(c.Embedding.Provider)
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "xai":
		return os.Getenv("XAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
