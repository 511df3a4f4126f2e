package service

import (
	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
)

// PyramidHighlights points at notable chunks of a pyramid by sequence number.
type PyramidHighlights struct {
	// Representative is the chunk closest to the centroid of all chunks, -1 if
	// no chunk has an embedding.
	Representative int
	// Outliers are the chunks furthest from the apex, or from the centroid
	// when there is no embedded apex, furthest first.
	Outliers []embedding.Ranked
}

// Highlights picks the representative and outlying chunks of p. Chunks with
// zero vectors are ignored.
func Highlights(p *models.Pyramid, outliers int) (*PyramidHighlights, error) {
	var (
		vecs [][]float32
		seqs []int
	)
	for _, c := range p.Chunks {
		if embedding.IsZero(c.Embedding) {
			continue
		}
		vecs = append(vecs, c.Embedding)
		seqs = append(seqs, c.Seq)
	}
	h := &PyramidHighlights{Representative: -1}
	if len(vecs) == 0 {
		return h, nil
	}

	idx, err := embedding.Medoid(vecs)
	if err != nil {
		return nil, err
	}
	h.Representative = seqs[idx]

	target := []float32(nil)
	if p.Apex != nil && !embedding.IsZero(p.Apex.Embedding) {
		target = p.Apex.Embedding
	} else if target, err = embedding.Centroid(vecs); err != nil {
		return nil, err
	}
	ranked, err := embedding.Furthest(target, vecs, outliers)
	if err != nil {
		return nil, err
	}
	for i := range ranked {
		ranked[i].Index = seqs[ranked[i].Index]
	}
	h.Outliers = ranked
	return h, nil
}
