// Package embedding wraps embedding providers and provides vector math over their output.
package embedding

import "context"

// Provider defines the interface for text embedding backends.
// Implementations live in internal/llm (Ollama, OpenAI via langchaingo).
type Provider interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, one vector per text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the vector index dimension of the storage engine.
	Dimension() int
}
