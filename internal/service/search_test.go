package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

func TestSearchTitleMatchOutranksBodyMatches(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	titled := create(t, st, models.NodeInput{
		Text:     "brief note",
		Metadata: models.Metadata{Title: "Kubernetes notes"},
	})
	body := create(t, st, models.NodeInput{
		Text:     "kubernetes kubernetes kubernetes cluster upgrade with kubernetes",
		Metadata: models.Metadata{Title: "Ops log"},
		Source:   models.Source{Type: "chatgpt"},
	})
	create(t, st, models.NodeInput{Text: "nothing to see here"})

	svc := service.NewSearchService(st, nil, nil)

	hits, err := svc.Search(ctx, service.SearchOptions{Query: "kubernetes"})
	require.NoError(t, err)
	assert.Equal(t, []string{titled.ID, body.ID}, ids(hits))
	assert.Equal(t, 1000.0, hits[0].Score)
	assert.Less(t, hits[1].Score, hits[0].Score)

	t.Run("filters", func(t *testing.T) {
		hits, err := svc.Search(ctx, service.SearchOptions{
			Query:   "kubernetes",
			Filters: store.NodeQuery{SourceTypes: []string{"chatgpt"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{body.ID}, ids(hits))
	})

	t.Run("pagination", func(t *testing.T) {
		hits, err := svc.Search(ctx, service.SearchOptions{Query: "kubernetes", Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{body.ID}, ids(hits))
	})

	t.Run("blank query", func(t *testing.T) {
		hits, err := svc.Search(ctx, service.SearchOptions{Query: "  "})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestSearchFallsBackWhenLexicalSearchFails(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	quoted := create(t, st, models.NodeInput{Text: `the token kube" has a stray quote`})
	create(t, st, models.NodeInput{Text: "unrelated"})

	// An unbalanced quote is an FTS syntax error.
	hits, err := service.NewSearchService(st, nil, nil).Search(ctx, service.SearchOptions{Query: `kube"`})
	require.NoError(t, err)
	assert.Equal(t, []string{quoted.ID}, ids(hits))
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestSearchTreatsPunctuationLiterally(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	question := create(t, st, models.NodeInput{Text: "a short answer", Metadata: models.Metadata{Title: "Why go?"}})
	exclaim := create(t, st, models.NodeInput{Text: "a loud answer", Metadata: models.Metadata{Title: "Why go!"}})

	hits, err := service.NewSearchService(st, nil, nil).Search(ctx, service.SearchOptions{Query: "why go?"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, question.ID, hits[0].Node.ID)
	assert.Equal(t, 1000.0, hits[0].Score)
	for _, h := range hits[1:] {
		assert.Equal(t, exclaim.ID, h.Node.ID)
		assert.Less(t, h.Score, 1000.0, "'?' is not a wildcard")
	}
}

func TestQueryRoutesTextToSearch(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	a := create(t, st, models.NodeInput{Text: "first", Metadata: models.Metadata{Title: "Alpha plan", Tags: []string{"work"}}})
	b := create(t, st, models.NodeInput{Text: "second", Metadata: models.Metadata{Tags: []string{"home"}}})
	svc := service.NewSearchService(st, nil, nil)

	nodes, err := svc.Query(ctx, store.NodeQuery{Text: "alpha"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, a.ID, nodes[0].ID)

	nodes, err = svc.Query(ctx, store.NodeQuery{Tags: []string{"home"}})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, b.ID, nodes[0].ID)
}

func TestSimilarNodes(t *testing.T) {
	ctx := context.Background()

	t.Run("vector search unavailable", func(t *testing.T) {
		p := &topicProvider{}
		svc := service.NewSearchService(newStore(t), newEmbedder(p), nil)
		_, err := svc.SimilarNodes(ctx, "alpha", 5)
		require.ErrorIs(t, err, store.ErrVectorUnavailable)
		assert.Zero(t, p.calls)
	})

	t.Run("nearest first", func(t *testing.T) {
		st := newVectorStore(t)
		p := &topicProvider{}
		embedder := newEmbedder(p)
		alpha := create(t, st, models.NodeInput{Text: "alpha alpha release"})
		beta := create(t, st, models.NodeInput{Text: "beta rollout"})
		for _, n := range []*models.ContentNode{alpha, beta} {
			vec, err := embedder.Embed(ctx, n.Content.Text)
			require.NoError(t, err)
			require.NoError(t, st.PutEmbedding(ctx, n.ID, embedder.Model(), vec))
		}

		hits, err := service.NewSearchService(st, embedder, nil).SimilarNodes(ctx, "alpha", 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, alpha.ID, hits[0].Node.ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
	})
}
