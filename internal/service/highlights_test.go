package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
)

func TestHighlights(t *testing.T) {
	p := &models.Pyramid{
		Chunks: []models.PyramidChunk{
			{Seq: 0, Embedding: []float32{1, 0, 0}},
			{Seq: 1, Embedding: []float32{0, 0, 0}},
			{Seq: 2, Embedding: []float32{0.7071, 0.7071, 0}},
			{Seq: 3, Embedding: []float32{0, 1, 0}},
			{Seq: 4, Embedding: []float32{0, 0, 1}},
		},
	}

	t.Run("without apex", func(t *testing.T) {
		h, err := service.Highlights(p, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, h.Representative)
		require.Len(t, h.Outliers, 1)
		assert.Equal(t, 4, h.Outliers[0].Index)
	})

	t.Run("outliers measured from apex", func(t *testing.T) {
		withApex := *p
		withApex.Apex = &models.PyramidApex{Embedding: []float32{0, 0, 1}}
		h, err := service.Highlights(&withApex, 0)
		require.NoError(t, err)
		require.Len(t, h.Outliers, 4, "the zero-vector chunk is ignored")
		assert.Equal(t, 0, h.Outliers[0].Index)
		assert.Equal(t, 4, h.Outliers[3].Index)
	})

	t.Run("no embeddings", func(t *testing.T) {
		h, err := service.Highlights(&models.Pyramid{Chunks: []models.PyramidChunk{{Seq: 0}}}, 3)
		require.NoError(t, err)
		assert.Equal(t, -1, h.Representative)
		assert.Empty(t, h.Outliers)
	})
}
