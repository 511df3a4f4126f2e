package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"CONTENTGRAPH_BACKEND", "CONTENTGRAPH_EMBED_DIMENSION", "CONTENTGRAPH_CHUNK_MAX",
		"CONTENTGRAPH_VECTOR_SEARCH", "CONTENTGRAPH_LOG_LEVEL", "CONTENTGRAPH_OWNER", "AWS_REGION",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 768, cfg.EmbedDimension)
	assert.Equal(t, 4000, cfg.ChunkMaxSize)
	assert.True(t, cfg.VectorSearch)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.Owner)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONTENTGRAPH_BACKEND", "SurrealDB")
	t.Setenv("CONTENTGRAPH_EMBED_DIMENSION", "384")
	t.Setenv("CONTENTGRAPH_CHUNK_MAX", "not-a-number")
	t.Setenv("CONTENTGRAPH_VECTOR_SEARCH", "false")
	t.Setenv("CONTENTGRAPH_LOG_LEVEL", "warning")
	t.Setenv("CONTENTGRAPH_OWNER", "alice")

	cfg := Load()
	assert.Equal(t, BackendSurrealDB, cfg.Backend)
	assert.Equal(t, 384, cfg.EmbedDimension)
	assert.Equal(t, 4000, cfg.ChunkMaxSize, "invalid int falls back to default")
	assert.False(t, cfg.VectorSearch)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "alice", cfg.Owner)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("stored", "node", "n1")

	assert.Contains(t, stderr.String(), "stored")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, file.String(), `"node":"n1"`)
}
