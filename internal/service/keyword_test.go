package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
)

func TestFindByKeyword(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	titled := create(t, st, models.NodeInput{
		Text:     "A short note on traversal order and cycles in a graph.",
		Metadata: models.Metadata{Title: "Graph basics"},
	})
	late := create(t, st, models.NodeInput{
		Text: "This long note wanders through many unrelated topics such as cooking, travel, weather, " +
			"gardening, music, film, sport, history, politics and language before it finally, at the very end " +
			"of a long paragraph that keeps going well past the opening lines, mentions a graph once.",
	})
	create(t, st, models.NodeInput{Text: "Nothing relevant in this one."})
	create(t, st, models.NodeInput{Text: "Nor in this one."})

	svc := service.NewSearchService(st, nil, nil)

	hits, err := svc.FindByKeyword(ctx, "graph", service.KeywordOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{titled.ID, late.ID}, ids(hits))
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, 0.0)

	t.Run("limit", func(t *testing.T) {
		hits, err := svc.FindByKeyword(ctx, "graph", service.KeywordOptions{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{titled.ID}, ids(hits))
	})

	t.Run("no match", func(t *testing.T) {
		hits, err := svc.FindByKeyword(ctx, "zebra", service.KeywordOptions{})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("owner scope", func(t *testing.T) {
		owned := create(t, st, models.NodeInput{Text: "my graph", OwnerID: "alice"})
		create(t, st, models.NodeInput{Text: "their graph", OwnerID: "bob"})

		hits, err := svc.FindByKeyword(ctx, "graph", service.KeywordOptions{Owner: "alice"})
		require.NoError(t, err)
		assert.Contains(t, ids(hits), owned.ID)
		for _, h := range hits {
			assert.True(t, h.Node.VisibleTo("alice"))
		}
	})
}

func TestFindByKeywordEverywhereScoresZero(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	create(t, st, models.NodeInput{Text: "graph one"})
	create(t, st, models.NodeInput{Text: "graph two"})

	hits, err := service.NewSearchService(st, nil, nil).FindByKeyword(ctx, "graph", service.KeywordOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Zero(t, h.Score)
	}
}

func TestFindByKeywordLeadBoostNeedsWholeKeyword(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	// Same word count and one occurrence each, so only the lead boost differs.
	inside := create(t, st, models.NodeInput{Text: strings.Repeat("a", 190) + " graphs " + strings.Repeat("b", 20)})
	straddling := create(t, st, models.NodeInput{Text: strings.Repeat("a", 198) + " graphs " + strings.Repeat("c", 12)})
	create(t, st, models.NodeInput{Text: "unrelated one"})
	create(t, st, models.NodeInput{Text: "unrelated two"})

	hits, err := service.NewSearchService(st, nil, nil).FindByKeyword(ctx, "graph", service.KeywordOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{inside.ID, straddling.ID}, ids(hits))
	assert.InDelta(t, 1.3, hits[0].Score/hits[1].Score, 1e-9)
}
