// Package config loads runtime configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Backend selects the storage engine.
type Backend string

const (
	BackendSQLite    Backend = "sqlite"
	BackendSurrealDB Backend = "surrealdb"
)

// Provider identifies an embedding or LLM provider.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Storage
	Backend      Backend
	SQLitePath   string
	VectorSearch bool // brute-force vector search on the sqlite backend

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Embeddings
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	// Summarizer
	LLMProvider Provider
	LLMModel    string

	// Provider endpoints and keys
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string // Bedrock; credentials come from the default AWS chain

	// Chunking
	ChunkMaxSize int

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Ownership filter applied to reads and stamped on imports
	Owner string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Backend:      Backend(strings.ToLower(getEnv("CONTENTGRAPH_BACKEND", string(BackendSQLite)))),
		SQLitePath:   getEnv("CONTENTGRAPH_SQLITE_PATH", defaultSQLitePath()),
		VectorSearch: getBool("CONTENTGRAPH_VECTOR_SEARCH", true),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "contentgraph"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "content"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  Provider(getEnv("CONTENTGRAPH_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("CONTENTGRAPH_EMBED_MODEL", "nomic-embed-text"),
		EmbedDimension: getInt("CONTENTGRAPH_EMBED_DIMENSION", 768),

		LLMProvider: Provider(getEnv("CONTENTGRAPH_LLM_PROVIDER", string(ProviderOllama))),
		LLMModel:    getEnv("CONTENTGRAPH_LLM_MODEL", "llama3.2"),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		ChunkMaxSize: getInt("CONTENTGRAPH_CHUNK_MAX", 4000),

		LogFile:  getEnv("CONTENTGRAPH_LOG_FILE", "/tmp/contentgraph.log"),
		LogLevel: parseLogLevel(getEnv("CONTENTGRAPH_LOG_LEVEL", "INFO")),

		Owner: getEnv("CONTENTGRAPH_OWNER", ""),
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "contentgraph.db"
	}
	return home + "/.contentgraph/contentgraph.db"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return b
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
