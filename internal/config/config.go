package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Vector index backends.
const (
	VectorSQLite   = "sqlite"
	VectorQdrant   = "qdrant"
	VectorPGVector = "pgvector"
)

type Config struct {
	Port     string `toml:"port" yaml:"port"`
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// Auth
	DocgraphAPIKey string `toml:"api_key" yaml:"api_key"`

	// Upload limits
	MaxUploadBytes int64 `toml:"max_upload_bytes" yaml:"max_upload_bytes"`

	// LLM summarization
	AnthropicAPIKey  string        `toml:"anthropic_api_key" yaml:"anthropic_api_key"`
	AnthropicModel   string        `toml:"anthropic_model" yaml:"anthropic_model"`
	AnthropicBaseURL string        `toml:"anthropic_base_url" yaml:"anthropic_base_url"`
	LLMTemperature   float64       `toml:"llm_temperature" yaml:"llm_temperature"`
	LLMMaxTokens     int           `toml:"llm_max_tokens" yaml:"llm_max_tokens"`
	LLMTimeout       time.Duration `toml:"llm_timeout" yaml:"llm_timeout"`

	// Embeddings
	EmbeddingBaseURL    string        `toml:"embedding_base_url" yaml:"embedding_base_url"`
	EmbeddingAPIKey     string        `toml:"embedding_api_key" yaml:"embedding_api_key"`
	EmbeddingModel      string        `toml:"embedding_model" yaml:"embedding_model"`
	EmbeddingDimensions int           `toml:"embedding_dimensions" yaml:"embedding_dimensions"`
	EmbeddingBatchSize  int           `toml:"embedding_batch_size" yaml:"embedding_batch_size"`
	EmbeddingBatchDelay time.Duration `toml:"embedding_batch_delay" yaml:"embedding_batch_delay"`
	EmbeddingTimeout    time.Duration `toml:"embedding_timeout" yaml:"embedding_timeout"`

	// Graph store
	GraphPath string `toml:"graph_path" yaml:"graph_path"`

	// Vector index
	VectorBackend    string `toml:"vector_backend" yaml:"vector_backend"`
	VectorCollection string `toml:"vector_collection" yaml:"vector_collection"`
	VectorPath       string `toml:"vector_path" yaml:"vector_path"`
	QdrantURL        string `toml:"qdrant_url" yaml:"qdrant_url"`
	QdrantAPIKey     string `toml:"qdrant_api_key" yaml:"qdrant_api_key"`
	PostgresDSN      string `toml:"postgres_dsn" yaml:"postgres_dsn"`

	// Chunking
	ChunkMaxTokens    int `toml:"chunk_max_tokens" yaml:"chunk_max_tokens"`
	ChunkOverlapWords int `toml:"chunk_overlap_words" yaml:"chunk_overlap_words"`

	// Retrieval
	DefaultTopK      int     `toml:"default_top_k" yaml:"default_top_k"`
	GraphWeight      float64 `toml:"graph_weight" yaml:"graph_weight"`
	VectorWeight     float64 `toml:"vector_weight" yaml:"vector_weight"`
	ExpansionDepth   int     `toml:"expansion_depth" yaml:"expansion_depth"`
	ExpansionDamping float64 `toml:"expansion_damping" yaml:"expansion_damping"`

	// Worker pool
	WorkerCount  int           `toml:"worker_count" yaml:"worker_count"`
	MaxQueueSize int           `toml:"max_queue_size" yaml:"max_queue_size"`
	JobTTL       time.Duration `toml:"job_ttl" yaml:"job_ttl"`

	// Document classification
	ClassifyDocuments bool     `toml:"classify_documents" yaml:"classify_documents"`
	DocumentTypes     []string `toml:"document_types" yaml:"document_types"`

	// PDF
	PDFFallbackPdftotext bool `toml:"pdf_fallback_pdftotext" yaml:"pdf_fallback_pdftotext"`

	// Telemetry
	TelemetryEnabled     bool   `toml:"telemetry_enabled" yaml:"telemetry_enabled"`
	TelemetryServiceName string `toml:"telemetry_service_name" yaml:"telemetry_service_name"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:     "8090",
		LogLevel: "info",

		MaxUploadBytes: 52428800, // 50MB

		AnthropicModel:   "claude-sonnet-4-5-20250929",
		AnthropicBaseURL: "https://api.anthropic.com",
		LLMTemperature:   0.2,
		LLMMaxTokens:     300,
		LLMTimeout:       120 * time.Second,

		EmbeddingBaseURL:    "https://api.openai.com/v1",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingBatchSize:  32,
		EmbeddingBatchDelay: 200 * time.Millisecond,
		EmbeddingTimeout:    30 * time.Second,

		GraphPath: "docgraph.db",

		VectorBackend:    VectorSQLite,
		VectorCollection: "docgraph_chunks",
		VectorPath:       "docgraph-vectors.db",
		QdrantURL:        "http://localhost:6333",

		ChunkMaxTokens:    2000,
		ChunkOverlapWords: 50,

		DefaultTopK:      5,
		GraphWeight:      0.3,
		VectorWeight:     0.7,
		ExpansionDepth:   1,
		ExpansionDamping: 0.3,

		WorkerCount:  1,
		MaxQueueSize: 100,
		JobTTL:       1 * time.Hour,

		DocumentTypes: []string{"is_rule", "guideline", "reference", "other"},

		PDFFallbackPdftotext: true,

		TelemetryServiceName: "docgraph",
	}
}

// Load builds a Config from defaults, then the file at path (TOML or YAML by
// extension; skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	cfg.fillZeroes()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.DocgraphAPIKey = envOr("DOCGRAPH_API_KEY", cfg.DocgraphAPIKey)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)

	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicModel = envOr("ANTHROPIC_MODEL", cfg.AnthropicModel)
	cfg.AnthropicBaseURL = envOr("ANTHROPIC_BASE_URL", cfg.AnthropicBaseURL)
	cfg.LLMTemperature = envFloat("LLM_TEMPERATURE", cfg.LLMTemperature)
	cfg.LLMMaxTokens = envInt("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	cfg.LLMTimeout = envDuration("LLM_TIMEOUT", cfg.LLMTimeout)

	cfg.EmbeddingBaseURL = envOr("EMBEDDING_BASE_URL", cfg.EmbeddingBaseURL)
	cfg.EmbeddingAPIKey = envOr("EMBEDDING_API_KEY", cfg.EmbeddingAPIKey)
	cfg.EmbeddingModel = envOr("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingDimensions = envInt("EMBEDDING_DIMENSIONS", cfg.EmbeddingDimensions)
	cfg.EmbeddingBatchSize = envInt("EMBEDDING_BATCH_SIZE", cfg.EmbeddingBatchSize)
	cfg.EmbeddingBatchDelay = envDuration("EMBEDDING_BATCH_DELAY", cfg.EmbeddingBatchDelay)
	cfg.EmbeddingTimeout = envDuration("EMBEDDING_TIMEOUT", cfg.EmbeddingTimeout)

	cfg.GraphPath = envOr("GRAPH_PATH", cfg.GraphPath)

	cfg.VectorBackend = envOr("VECTOR_BACKEND", cfg.VectorBackend)
	cfg.VectorCollection = envOr("VECTOR_COLLECTION", cfg.VectorCollection)
	cfg.VectorPath = envOr("VECTOR_PATH", cfg.VectorPath)
	cfg.QdrantURL = envOr("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantAPIKey = envOr("QDRANT_API_KEY", cfg.QdrantAPIKey)
	cfg.PostgresDSN = envOr("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.ChunkMaxTokens = envInt("CHUNK_MAX_TOKENS", cfg.ChunkMaxTokens)
	cfg.ChunkOverlapWords = envInt("CHUNK_OVERLAP_WORDS", cfg.ChunkOverlapWords)

	cfg.DefaultTopK = envInt("DEFAULT_TOP_K", cfg.DefaultTopK)
	cfg.GraphWeight = envFloat("GRAPH_WEIGHT", cfg.GraphWeight)
	cfg.VectorWeight = envFloat("VECTOR_WEIGHT", cfg.VectorWeight)
	cfg.ExpansionDepth = envInt("EXPANSION_DEPTH", cfg.ExpansionDepth)
	cfg.ExpansionDamping = envFloat("EXPANSION_DAMPING", cfg.ExpansionDamping)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)

	cfg.ClassifyDocuments = envBool("CLASSIFY_DOCUMENTS", cfg.ClassifyDocuments)
	if v := os.Getenv("DOCUMENT_TYPES"); v != "" {
		cfg.DocumentTypes = splitList(v)
	}

	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", cfg.PDFFallbackPdftotext)

	cfg.TelemetryEnabled = envBool("TELEMETRY_ENABLED", cfg.TelemetryEnabled)
	cfg.TelemetryServiceName = envOr("OTEL_SERVICE_NAME", cfg.TelemetryServiceName)
}

// fillZeroes restores defaults for numeric settings left at or below zero.
func (c *Config) fillZeroes() {
	def := Defaults()
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.LLMMaxTokens <= 0 {
		c.LLMMaxTokens = def.LLMMaxTokens
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = def.LLMTimeout
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = def.EmbeddingBatchSize
	}
	if c.EmbeddingTimeout <= 0 {
		c.EmbeddingTimeout = def.EmbeddingTimeout
	}
	if c.ChunkMaxTokens <= 0 {
		c.ChunkMaxTokens = def.ChunkMaxTokens
	}
	if c.ChunkOverlapWords < 0 {
		c.ChunkOverlapWords = 0
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = def.DefaultTopK
	}
	if c.ExpansionDepth <= 0 {
		c.ExpansionDepth = def.ExpansionDepth
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.JobTTL <= 0 {
		c.JobTTL = def.JobTTL
	}
	if len(c.DocumentTypes) == 0 {
		c.DocumentTypes = def.DocumentTypes
	}
}

// Validate checks the settings every ingesting entry point needs.
// Server-only requirements are checked by ValidateServer.
func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return c.ValidateRetrieval()
}

// ValidateRetrieval checks what read-only use needs: storage and embeddings.
func (c Config) ValidateRetrieval() error {
	if c.EmbeddingBaseURL == "" {
		return fmt.Errorf("EMBEDDING_BASE_URL is required")
	}
	if c.GraphPath == "" {
		return fmt.Errorf("GRAPH_PATH is required")
	}
	switch c.VectorBackend {
	case VectorSQLite:
		if c.VectorPath == "" {
			return fmt.Errorf("VECTOR_PATH is required for the sqlite backend")
		}
	case VectorQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("QDRANT_URL is required for the qdrant backend")
		}
	case VectorPGVector:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("unknown vector backend %q", c.VectorBackend)
	}
	if c.GraphWeight < 0 || c.VectorWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	return nil
}

// ValidateServer adds the HTTP server's requirements to Validate.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DocgraphAPIKey == "" {
		return fmt.Errorf("DOCGRAPH_API_KEY is required")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
