package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	p := &topicProvider{}
	svc := service.NewEmbeddingService(st, newEmbedder(p), nil)

	good := create(t, st, models.NodeInput{Text: "alpha release notes"})
	bad := create(t, st, models.NodeInput{Text: "a bad input the provider rejects"})
	create(t, st, models.NodeInput{Text: "beta rollout plan"})

	res, err := svc.Backfill(ctx, service.BackfillOptions{GroupSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 1, res.Failed)

	e, err := st.GetEmbedding(ctx, good.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "topic", e.Model)
	assert.Equal(t, good.ContentHash, e.ContentHash)

	missing, err := st.GetEmbedding(ctx, bad.ID)
	require.NoError(t, err)
	assert.Nil(t, missing, "zero vectors are not stored")

	t.Run("only the failed node is left", func(t *testing.T) {
		again, err := svc.Backfill(ctx, service.BackfillOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, again.Candidates)
	})

	t.Run("updated content is stale", func(t *testing.T) {
		text := "alpha release notes, revised"
		updated, err := st.UpdateNode(ctx, good.ID, models.NodePatch{Text: &text}, store.UpdateOptions{})
		require.NoError(t, err)

		again, err := svc.Backfill(ctx, service.BackfillOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, again.Candidates)
		assert.Equal(t, 1, again.Embedded)

		stale, err := st.IsEmbeddingStale(ctx, updated.ID)
		require.NoError(t, err)
		assert.False(t, stale)
	})
}

func TestJunkRules(t *testing.T) {
	long := strings.Repeat("useful context ", 5)
	tests := []struct {
		name string
		node models.ContentNode
		want string
	}{
		{"tool role", models.ContentNode{Content: models.Content{Text: long}, Metadata: models.Metadata{Extra: map[string]any{"role": "tool"}}}, "tool_role"},
		{"too short", models.ContentNode{Content: models.Content{Text: "ok thanks"}}, "too_short"},
		{"image placeholder", models.ContentNode{Content: models.Content{Text: long + "<<ImageDisplayed>>"}}, "image_placeholder"},
		{"traceback", models.ContentNode{Content: models.Content{Text: "Traceback (most recent call last): " + long}}, "traceback"},
		{"click command", models.ContentNode{Content: models.Content{Text: "click(12, 'open the next result page')"}}, "tool_command"},
		{"search command", models.ContentNode{Content: models.Content{Text: `search("vector database benchmarks 2024")`}}, "tool_command"},
		{"json blob", models.ContentNode{Content: models.Content{Text: `{"query": "weather in lisbon", "n": 5}`}}, "json_blob"},
		{"short error", models.ContentNode{Content: models.Content{Text: "Error code 500 while calling the tool"}}, "error_message"},
		{"fetch failure", models.ContentNode{Content: models.Content{Text: "Failed to fetch https://example.com " + long}}, "fetch_failure"},
		{"kept", models.ContentNode{Content: models.Content{Text: long}}, ""},
		{"long error kept", models.ContentNode{Content: models.Content{Text: "Error " + strings.Repeat("x", 250)}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ""
			for _, r := range service.JunkRules {
				if r.Match(&tt.node) {
					got = r.Name
					break
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	embedder := newEmbedder(&topicProvider{})
	svc := service.NewEmbeddingService(st, embedder, nil)

	keep := create(t, st, models.NodeInput{Text: "A substantial message about the alpha migration plan."})
	short := create(t, st, models.NodeInput{Text: "thanks"})
	tool := create(t, st, models.NodeInput{
		Text:     "tool output that is long enough to pass the length rule",
		Metadata: models.Metadata{Extra: map[string]any{"role": "tool"}},
	})
	for _, n := range []*models.ContentNode{keep, short, tool} {
		require.NoError(t, st.PutEmbedding(ctx, n.ID, embedder.Model(), []float32{1, 0, 0, 0}))
	}

	preview, err := svc.Prune(ctx, service.PruneOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, preview.Scanned)
	assert.Equal(t, 2, preview.Flagged)
	assert.Zero(t, preview.Deleted)
	assert.Equal(t, map[string]int{"too_short": 1, "tool_role": 1}, preview.ByRule)
	assert.ElementsMatch(t, []string{short.ID, tool.ID}, preview.NodeIDs)

	e, err := st.GetEmbedding(ctx, short.ID)
	require.NoError(t, err)
	assert.NotNil(t, e, "preview deletes nothing")

	res, err := svc.Prune(ctx, service.PruneOptions{Execute: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	for id, want := range map[string]bool{keep.ID: true, short.ID: false, tool.ID: false} {
		e, err := st.GetEmbedding(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, e != nil, id)
	}
	node, err := st.GetNode(ctx, short.ID)
	require.NoError(t, err)
	assert.NotNil(t, node, "nodes survive pruning")
}
