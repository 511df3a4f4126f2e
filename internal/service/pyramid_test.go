package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var builtAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// longThread returns a thread of at least words words in short paragraphs.
func longThread(words int) string {
	var b strings.Builder
	topics := []string{"alpha", "beta", "gamma"}
	for i := 0; models.WordCount(b.String()) < words; i++ {
		fmt.Fprintf(&b, "Paragraph %d talks about %s in some detail. It adds a second sentence here.\n\n", i, topics[i%3])
	}
	return b.String()
}

func newPyramidService(st *store.Store, p *topicProvider, sum service.Summarizer, cfg service.PyramidConfig) *service.PyramidService {
	return service.NewPyramidService(st, newEmbedder(p), sum,
		service.WithPyramidConfig(cfg),
		service.WithPyramidClock(func() time.Time { return builtAt }))
}

func statuses(res *service.BuildResult) map[service.Stage]service.StageStatus {
	out := make(map[service.Stage]service.StageStatus)
	for _, st := range res.Stages {
		out[st.Stage] = st.Status
	}
	return out
}

func TestBuildShortThreadHasOnlyChunks(t *testing.T) {
	ctx := context.Background()
	st := newVectorStore(t)
	sum := &fakeSummarizer{}
	svc := newPyramidService(st, &topicProvider{}, sum, service.DefaultPyramidConfig())

	text := "User: how do I rotate logs?\n\nAssistant: use logrotate with a daily schedule and compress old files."
	res, err := svc.Build(ctx, "thread-1", text)
	require.NoError(t, err)

	p := res.Pyramid
	assert.Equal(t, 1, p.Depth)
	require.Len(t, p.Chunks, 1)
	assert.Empty(t, p.Summaries)
	assert.Nil(t, p.Apex)
	assert.Equal(t, "thread-1_c0", p.Chunks[0].ID)
	assert.Empty(t, sum.calls)

	assert.Equal(t, map[service.Stage]service.StageStatus{
		service.StageChunk:      service.StatusDone,
		service.StageEmbedL0:    service.StatusDone,
		service.StageSummarize:  service.StatusSkipped,
		service.StageEmbedL1:    service.StatusSkipped,
		service.StageSynthesize: service.StatusSkipped,
		service.StageStore:      service.StatusDone,
	}, statuses(res))
	assert.False(t, res.Degraded())

	stored, err := st.GetPyramid(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Depth)
	assert.Len(t, stored.Chunks, 1)
	assert.True(t, stored.BuiltAt.Equal(builtAt))
}

func TestBuildBelowSummaryThresholdGetsNoApex(t *testing.T) {
	tests := []struct {
		name    string
		apexMin int
	}{
		{"default tuning", service.DefaultPyramidConfig().MinWordsForApex},
		{"apex threshold lower than summaries", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := newVectorStore(t)
			sum := &fakeSummarizer{}
			cfg := service.DefaultPyramidConfig()
			cfg.ChunkMaxSize = 300
			cfg.MinWordsForApex = tt.apexMin
			svc := newPyramidService(st, &topicProvider{}, sum, cfg)

			res, err := svc.Build(ctx, "thread-mid", longThread(600))
			require.NoError(t, err)

			p := res.Pyramid
			assert.Equal(t, 1, p.Depth)
			assert.Greater(t, len(p.Chunks), 1)
			assert.Empty(t, p.Summaries)
			assert.Nil(t, p.Apex)
			assert.Empty(t, sum.calls)

			stages := make([]service.Stage, len(res.Stages))
			for i, r := range res.Stages {
				stages[i] = r.Stage
			}
			assert.Equal(t, []service.Stage{
				service.StageChunk, service.StageEmbedL0, service.StageSummarize,
				service.StageEmbedL1, service.StageSynthesize, service.StageStore,
			}, stages)
			got := statuses(res)
			assert.Equal(t, service.StatusSkipped, got[service.StageSummarize])
			assert.Equal(t, service.StatusSkipped, got[service.StageEmbedL1])
			assert.Equal(t, service.StatusSkipped, got[service.StageSynthesize])
		})
	}
}

func TestBuildFullPyramid(t *testing.T) {
	ctx := context.Background()
	st := newVectorStore(t)
	sum := &fakeSummarizer{}
	cfg := service.DefaultPyramidConfig()
	cfg.ChunkMaxSize = 300
	svc := newPyramidService(st, &topicProvider{}, sum, cfg)

	text := longThread(1200)
	res, err := svc.Build(ctx, "thread-2", text)
	require.NoError(t, err)

	p := res.Pyramid
	assert.Equal(t, 3, p.Depth)
	require.Greater(t, len(p.Chunks), cfg.ChunksPerSummary)
	wantSummaries := (len(p.Chunks) + cfg.ChunksPerSummary - 1) / cfg.ChunksPerSummary
	require.Len(t, p.Summaries, wantSummaries)

	var joined strings.Builder
	for i, c := range p.Chunks {
		assert.Equal(t, i, c.Seq)
		assert.LessOrEqual(t, len(c.Text), cfg.ChunkMaxSize)
		joined.WriteString(c.Text)
	}
	assert.Equal(t, text, joined.String())

	for i, s := range p.Summaries {
		assert.Equal(t, fmt.Sprintf("thread-2_s%d", i), s.ID)
		assert.False(t, s.Extractive)
		assert.LessOrEqual(t, len(s.ChildIDs), cfg.ChunksPerSummary)
		assert.Equal(t, fmt.Sprintf("thread-2_c%d", i*cfg.ChunksPerSummary), s.ChildIDs[0])
		assert.Greater(t, s.CompressionRatio, 0.0)
	}

	require.NotNil(t, p.Apex)
	assert.Equal(t, "thread-2_apex", p.Apex.ID)
	assert.Len(t, p.Apex.ChildIDs, len(p.Summaries))
	assert.False(t, embedding.IsZero(p.Apex.Embedding))
	assert.Len(t, sum.calls, len(p.Summaries)+1)

	t.Run("rebuild replaces", func(t *testing.T) {
		_, err := svc.Build(ctx, "thread-2", "a much shorter thread about alpha")
		require.NoError(t, err)
		stored, err := st.GetPyramid(ctx, "thread-2")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.Depth)
		assert.Len(t, stored.Chunks, 1)
		assert.Empty(t, stored.Summaries)
		assert.Nil(t, stored.Apex)
	})
}

func TestBuildDegradesWhenSummarizerFails(t *testing.T) {
	ctx := context.Background()
	st := newVectorStore(t)
	cfg := service.DefaultPyramidConfig()
	cfg.ChunkMaxSize = 300
	cfg.ExtractiveChars = 40
	svc := newPyramidService(st, &topicProvider{}, &fakeSummarizer{down: true}, cfg)

	res, err := svc.Build(ctx, "thread-3", longThread(1100))
	require.NoError(t, err)
	assert.True(t, res.Degraded())

	got := statuses(res)
	assert.Equal(t, service.StatusDegraded, got[service.StageSummarize])
	assert.Equal(t, service.StatusDegraded, got[service.StageSynthesize])

	p := res.Pyramid
	assert.Equal(t, 3, p.Depth)
	for _, s := range p.Summaries {
		assert.True(t, s.Extractive)
		assert.LessOrEqual(t, len([]rune(s.Text)), 40)
		assert.True(t, strings.HasPrefix(s.Text, "Paragraph"))
	}
	require.NotNil(t, p.Apex)
	assert.True(t, p.Apex.Extractive)
}

func TestBuildDegradesWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	st := newVectorStore(t)
	p := &topicProvider{down: true}
	svc := newPyramidService(st, p, nil, service.DefaultPyramidConfig())

	res, err := svc.Build(ctx, "thread-4", longThread(1100))
	require.NoError(t, err)

	got := statuses(res)
	assert.Equal(t, service.StatusDegraded, got[service.StageEmbedL0])
	assert.Equal(t, service.StatusDegraded, got[service.StageEmbedApex])
	for _, c := range res.Pyramid.Chunks {
		assert.True(t, embedding.IsZero(c.Embedding))
	}
	require.NotNil(t, res.Pyramid.Apex)
	assert.True(t, res.Pyramid.Apex.Extractive, "nil summarizer always extracts")
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	svc := newPyramidService(newVectorStore(t), &topicProvider{}, nil, service.DefaultPyramidConfig())
	_, err := svc.Build(context.Background(), "thread-5", "   ")
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestBuildAll(t *testing.T) {
	ctx := context.Background()
	st := newVectorStore(t)
	svc := newPyramidService(st, &topicProvider{}, &fakeSummarizer{}, service.DefaultPyramidConfig())

	a := create(t, st, models.NodeInput{Text: "alpha thread text"})
	b := create(t, st, models.NodeInput{Text: "beta thread text"})

	var done []string
	res := svc.BuildAll(ctx, []string{a.ID, b.ID, "missing"}, service.BuildAllOptions{
		Concurrency: 1,
		OnDone:      func(id string, _ *service.BuildResult, _ error) { done = append(done, id) },
	})
	assert.Equal(t, 2, res.Built)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)
	assert.Len(t, done, 3)

	for _, id := range []string{a.ID, b.ID} {
		p, err := st.GetPyramid(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
}

func TestSearchPyramid(t *testing.T) {
	ctx := context.Background()
	st := newVectorStore(t)
	cfg := service.DefaultPyramidConfig()
	cfg.ChunkMaxSize = 300
	svc := newPyramidService(st, &topicProvider{}, &fakeSummarizer{}, cfg)

	_, err := svc.Build(ctx, "long", longThread(1200))
	require.NoError(t, err)
	_, err = svc.Build(ctx, "short", "a single note about beta and beta again")
	require.NoError(t, err)

	hits, err := svc.SearchPyramid(ctx, "beta", service.PyramidSearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 5)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
	}

	t.Run("thread filter", func(t *testing.T) {
		hits, err := svc.SearchPyramid(ctx, "beta", service.PyramidSearchOptions{Limit: 200, ThreadID: "long"})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		tiers := map[models.PyramidTier]bool{}
		for _, h := range hits {
			assert.Equal(t, "long", h.ThreadID)
			tiers[h.Tier] = true
		}
		assert.True(t, tiers[models.TierChunk])
		assert.True(t, tiers[models.TierSummary])
		assert.True(t, tiers[models.TierApex])
	})

	t.Run("vector search unavailable", func(t *testing.T) {
		plain := newPyramidService(newStore(t), &topicProvider{}, nil, cfg)
		_, err := plain.SearchPyramid(ctx, "beta", service.PyramidSearchOptions{})
		require.ErrorIs(t, err, store.ErrVectorUnavailable)
	})
}

func TestExtractive(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"short text kept", "  hello world  ", 50, "hello world"},
		{"cut at word boundary", "the quick brown fox", 12, "the quick"},
		{"single long word", "abcdefghij", 4, "abcd"},
		{"multibyte runes", "héllo wörld again", 11, "héllo wörld"},
		{"no limit", "anything goes", 0, "anything goes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.Extractive(tt.text, tt.max))
		})
	}
}
