package embedding

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns [len(text), 1, 0] and fails on texts containing "bad".
type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	batchCalls int
	failGroups bool
}

func (f *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if strings.Contains(text, "bad") {
		return nil, errors.New("provider rejected input")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if f.failGroups {
		return nil, errors.New("batch endpoint down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "bad") {
			return nil, errors.New("provider rejected input")
		}
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeProvider) Model() string  { return "fake" }
func (f *fakeProvider) Dimension() int { return 3 }

func TestClient_EmbedBlankShortCircuits(t *testing.T) {
	p := &fakeProvider{}
	c := NewClient(p)

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := c.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 0}, vec)
	}
	assert.Zero(t, p.calls)
}

func TestClient_EmbedReturnsProviderError(t *testing.T) {
	mc := metrics.NewCollector()
	c := NewClient(&fakeProvider{}, WithMetrics(mc))

	_, err := c.Embed(context.Background(), "bad input")
	require.Error(t, err)

	vec, err := c.Embed(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1, 0}, vec)

	snap := mc.Snapshot().Get(metrics.OpEmbed)
	require.NotNil(t, snap)
	assert.Equal(t, int64(2), snap.Count)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestClient_EmbedBatchDegradesFailedItems(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	p := &fakeProvider{}
	c := NewClient(p, WithLogger(logger))

	texts := []string{"alpha", "", "bad one", "delta", "echo"}
	var progress []Progress
	res, err := c.EmbedBatch(context.Background(), texts, BatchOptions{
		GroupSize:  2,
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	require.Len(t, res.Vectors, 5)
	assert.Equal(t, []float32{5, 1, 0}, res.Vectors[0])
	assert.Equal(t, []float32{0, 0, 0}, res.Vectors[1])
	assert.Equal(t, []float32{0, 0, 0}, res.Vectors[2])
	assert.Equal(t, []float32{5, 1, 0}, res.Vectors[3])
	assert.Equal(t, []float32{4, 1, 0}, res.Vectors[4])
	assert.Equal(t, []int{2}, res.Failed)

	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Done: 2, Total: 5, Failed: 0}, progress[0])
	assert.Equal(t, Progress{Done: 4, Total: 5, Failed: 1}, progress[1])
	assert.Equal(t, Progress{Done: 5, Total: 5, Failed: 1}, progress[2])

	assert.Contains(t, logs.String(), "embedding failed, using zero vector")
}

func TestClient_EmbedBatchBoundsFailureLogs(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	c := NewClient(&fakeProvider{failGroups: true}, WithLogger(logger))

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = "bad text"
	}
	res, err := c.EmbedBatch(context.Background(), texts, BatchOptions{GroupSize: 4})
	require.NoError(t, err)
	assert.Len(t, res.Failed, 8)

	assert.Equal(t, maxLoggedFailures, strings.Count(logs.String(), "embedding failed, using zero vector"))
	assert.Contains(t, logs.String(), "embedding failures in batch")
}

func TestClient_EmbedBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(&fakeProvider{})
	_, err := c.EmbedBatch(ctx, []string{"a", "b"}, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
