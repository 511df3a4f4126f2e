package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/idgen"
	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/sqlite"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

func newStore(t *testing.T, opts ...sqlite.Option) *store.Store {
	t.Helper()
	var mu sync.Mutex
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return store.New(sqlite.OpenMemory(t, opts...),
		store.WithIDGenerator(idgen.Sequential("n")),
		store.WithClock(clock),
		store.WithMetrics(metrics.NewCollector()),
	)
}

func newVectorStore(t *testing.T) *store.Store {
	t.Helper()
	return newStore(t, sqlite.WithVectorSearch())
}

func create(t *testing.T, s *store.Store, in models.NodeInput) *models.ContentNode {
	t.Helper()
	if in.Source.Type == "" {
		in.Source.Type = "markdown"
	}
	n, err := s.CreateNode(context.Background(), in)
	require.NoError(t, err)
	return n
}

// topicProvider embeds text as counts of the words alpha, beta and gamma plus
// a constant component. It fails on texts containing "bad" or when down.
type topicProvider struct {
	mu    sync.Mutex
	down  bool
	calls int
}

func (p *topicProvider) vector(text string) []float32 {
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "alpha")),
		float32(strings.Count(lower, "beta")),
		float32(strings.Count(lower, "gamma")),
		0.1,
	}
}

func (p *topicProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	down := p.down
	p.mu.Unlock()
	if down || strings.Contains(text, "bad") {
		return nil, errors.New("embedding provider unavailable")
	}
	return p.vector(text), nil
}

func (p *topicProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *topicProvider) Model() string  { return "topic" }
func (p *topicProvider) Dimension() int { return 4 }

func newEmbedder(p *topicProvider) *embedding.Client {
	return embedding.NewClient(p)
}

// fakeSummarizer returns the first words of its input, or fails when down.
type fakeSummarizer struct {
	mu    sync.Mutex
	down  bool
	calls []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string, targetWords int, instruction string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, instruction)
	f.mu.Unlock()
	if f.down {
		return "", errors.New("model overloaded")
	}
	words := strings.Fields(text)
	if len(words) > targetWords {
		words = words[:targetWords]
	}
	return "Summary: " + strings.Join(words, " "), nil
}

func ids(hits []models.ScoredNode) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Node.ID
	}
	return out
}
