// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Index routing modes.
const (
	IndexModeNamespace = "namespace"
	IndexModePerAvatar = "per_avatar"
)

// Config holds every tunable of the memory pipeline.
type Config struct {
	Log       LogConfig
	HTTP      HTTPConfig
	OpenAI    OpenAIConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Rolling   RollingConfig
	State     StateConfig
	Index     IndexConfig
	Vector    VectorConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Trace     TraceConfig
	Telemetry TelemetryConfig
}

type LogConfig struct {
	Mode string // "dev" or "prod"
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
}

type OpenAIConfig struct {
	APIKey string
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string // "openai" or "ollama"
	Model      string
	Dimension  int
	Timeout    time.Duration
	Fake       bool // skip the provider and use placeholder vectors
	OllamaHost string
}

// ChunkingConfig holds default chunk sizes in tokens. MinChunkTokens <= 0
// means 70% of TargetTokens.
type ChunkingConfig struct {
	TargetTokens   int
	OverlapTokens  int
	MinChunkTokens int
}

// RollingConfig controls rolling-summary compaction.
type RollingConfig struct {
	Enabled   bool
	Every     int
	Window    int
	Model     string
	Timeout   time.Duration
	QueueSize int
}

type StateConfig struct {
	Backend string // "file", "sqlite" or "redis"
	Dir     string
}

type IndexConfig struct {
	Mode    string
	Default string
	Prefix  string
}

type VectorConfig struct {
	Backend        string // "sqlite", "pinecone" or "pgvector"
	SQLitePath     string
	PineconeAPIKey string
	PineconeCloud  string
	PineconeRegion string
	PostgresURL    string
	Timeout        time.Duration
}

type RedisConfig struct {
	Addr        string
	StatePrefix string
	InsertQueue string
}

type WorkerConfig struct {
	Concurrency int
}

type TraceConfig struct {
	Path string
}

type TelemetryConfig struct {
	Stdout bool
}

// Load reads envFilePath when given (a missing file is not an error) and
// then the process environment.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	home := homeDir()
	every := getEnvAsInt("ROLLING_SUMMARY_EVERY", 5)

	cfg := &Config{
		Log:  LogConfig{Mode: getEnv("LOG_MODE", "dev")},
		HTTP: HTTPConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			CORSOrigins: getEnvAsList("HTTP_CORS_ORIGINS"),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnv("EMBED_PROVIDER", "openai"),
			Model:      getEnv("EMBED_MODEL", "text-embedding-3-small"),
			Dimension:  getEnvAsInt("EMBED_DIM", 1536),
			Timeout:    getEnvAsDuration("EMBED_TIMEOUT", 20*time.Second),
			Fake:       getEnvAsBool("FAKE_EMBEDDINGS", false),
			OllamaHost: getEnv("OLLAMA_HOST", "http://localhost:11434"),
		},
		Chunking: ChunkingConfig{
			TargetTokens:   getEnvAsInt("CHUNK_TARGET_TOKENS", 900),
			OverlapTokens:  getEnvAsInt("CHUNK_OVERLAP_TOKENS", 100),
			MinChunkTokens: getEnvAsInt("MIN_CHUNK_TOKENS", 0),
		},
		Rolling: RollingConfig{
			Enabled:   getEnvAsBool("ROLLING_SUMMARY_ENABLED", true),
			Every:     every,
			Window:    getEnvAsInt("ROLLING_SUMMARY_WINDOW", every),
			Model:     getEnv("ROLLING_SUMMARY_MODEL", "gpt-4o-mini"),
			Timeout:   getEnvAsDuration("ROLLING_SUMMARY_TIMEOUT", 20*time.Second),
			QueueSize: getEnvAsInt("ROLLING_QUEUE_SIZE", 64),
		},
		State: StateConfig{
			Backend: getEnv("STATE_BACKEND", "file"),
			Dir:     getEnv("STATE_DIR", filepath.Join(home, ".avatar-memory", "state")),
		},
		Index: IndexConfig{
			Mode:    getEnv("INDEX_MODE", IndexModeNamespace),
			Default: getEnv("VECTOR_INDEX", "avatar-memories"),
			Prefix:  getEnv("VECTOR_INDEX_PREFIX", "mem"),
		},
		Vector: VectorConfig{
			Backend:        getEnv("VECTOR_BACKEND", "sqlite"),
			SQLitePath:     getEnv("VECTOR_DB", filepath.Join(home, ".avatar-memory", "vectors.db")),
			PineconeAPIKey: getEnv("PINECONE_API_KEY", ""),
			PineconeCloud:  getEnv("PINECONE_CLOUD", "aws"),
			PineconeRegion: getEnv("PINECONE_REGION", "us-east-1"),
			PostgresURL:    getEnv("DATABASE_URL", ""),
			Timeout:        getEnvAsDuration("STORE_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			StatePrefix: getEnv("REDIS_STATE_PREFIX", "rolling"),
			InsertQueue: getEnv("INSERT_QUEUE", "memory:insert"),
		},
		Worker:    WorkerConfig{Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 2)},
		Trace:     TraceConfig{Path: getEnv("TRACE_PATH", filepath.Join(home, ".avatar-memory", "last_insert.json"))},
		Telemetry: TelemetryConfig{Stdout: getEnvAsBool("OTEL_STDOUT", false)},
	}

	if cfg.Rolling.Window <= 0 {
		cfg.Rolling.Window = cfg.Rolling.Every
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Index.Mode {
	case IndexModeNamespace, IndexModePerAvatar:
	default:
		return fmt.Errorf("invalid INDEX_MODE %q (use %s or %s)", c.Index.Mode, IndexModeNamespace, IndexModePerAvatar)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("invalid EMBED_DIM %d", c.Embedding.Dimension)
	}
	if strings.TrimSpace(c.Index.Default) == "" {
		return fmt.Errorf("VECTOR_INDEX must not be empty")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// getEnv returns the variable or defaultValue when unset.
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts "20s"-style durations or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
