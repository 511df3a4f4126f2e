package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
)

// SavePyramid replaces every tier stored for p.ThreadID in one transaction.
func (b *Backend) SavePyramid(ctx context.Context, p *models.Pyramid) error {
	return runTx(ctx, b.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pyramids WHERE thread_id = ?`, p.ThreadID); err != nil {
			return fmt.Errorf("clear pyramid: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pyramids (thread_id, depth, built_at) VALUES (?, ?, ?)`,
			p.ThreadID, p.Depth, p.BuiltAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert pyramid: %w", err)
		}

		for _, c := range p.Chunks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pyramid_chunks (id, thread_id, seq, text, start_offset, end_offset, boundary, word_count, embedding)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, p.ThreadID, c.Seq, c.Text, c.Start, c.End, c.Boundary, c.WordCount, vectorBlob(c.Embedding),
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Seq, err)
			}
		}

		for _, s := range p.Summaries {
			children, err := encodeJSON(s.ChildIDs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pyramid_summaries (id, thread_id, seq, text, child_ids, source_words, word_count,
					compression_ratio, extractive, embedding)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				s.ID, p.ThreadID, s.Seq, s.Text, children.String, s.SourceWords, s.WordCount,
				s.CompressionRatio, s.Extractive, vectorBlob(s.Embedding),
			); err != nil {
				return fmt.Errorf("insert summary %d: %w", s.Seq, err)
			}
		}

		if a := p.Apex; a != nil {
			children, err := encodeJSON(a.ChildIDs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pyramid_apex (id, thread_id, text, child_ids, source_words, word_count,
					compression_ratio, extractive, embedding)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, p.ThreadID, a.Text, children.String, a.SourceWords, a.WordCount,
				a.CompressionRatio, a.Extractive, vectorBlob(a.Embedding),
			); err != nil {
				return fmt.Errorf("insert apex: %w", err)
			}
		}
		return nil
	})
}

// GetPyramid loads every tier of a thread, nil if none was built.
func (b *Backend) GetPyramid(ctx context.Context, threadID string) (*models.Pyramid, error) {
	p := &models.Pyramid{ThreadID: threadID}
	var built int64
	err := b.db.QueryRowContext(ctx,
		`SELECT depth, built_at FROM pyramids WHERE thread_id = ?`, threadID,
	).Scan(&p.Depth, &built)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pyramid: %w", err)
	}
	p.BuiltAt = nanosTime(built)

	if p.Chunks, err = b.pyramidChunks(ctx, threadID); err != nil {
		return nil, err
	}
	if p.Summaries, err = b.pyramidSummaries(ctx, threadID); err != nil {
		return nil, err
	}
	if p.Apex, err = b.pyramidApex(ctx, threadID); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Backend) pyramidChunks(ctx context.Context, threadID string) ([]models.PyramidChunk, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, text, start_offset, end_offset, boundary, word_count, embedding
		FROM pyramid_chunks WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("pyramid chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.PyramidChunk{}
	for rows.Next() {
		var (
			c   models.PyramidChunk
			vec []byte
		)
		if err := rows.Scan(&c.ID, &c.ThreadID, &c.Seq, &c.Text, &c.Start, &c.End, &c.Boundary, &c.WordCount, &vec); err != nil {
			return nil, err
		}
		c.Embedding = vectorFrom(vec)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (b *Backend) pyramidSummaries(ctx context.Context, threadID string) ([]models.PyramidSummary, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, text, child_ids, source_words, word_count, compression_ratio, extractive, embedding
		FROM pyramid_summaries WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("pyramid summaries: %w", err)
	}
	defer rows.Close()

	summaries := []models.PyramidSummary{}
	for rows.Next() {
		var (
			s        models.PyramidSummary
			children string
			vec      []byte
		)
		if err := rows.Scan(&s.ID, &s.ThreadID, &s.Seq, &s.Text, &children, &s.SourceWords, &s.WordCount,
			&s.CompressionRatio, &s.Extractive, &vec); err != nil {
			return nil, err
		}
		if err := decodeJSON(sql.NullString{String: children, Valid: true}, &s.ChildIDs); err != nil {
			return nil, err
		}
		s.Embedding = vectorFrom(vec)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (b *Backend) pyramidApex(ctx context.Context, threadID string) (*models.PyramidApex, error) {
	var (
		a        models.PyramidApex
		children string
		vec      []byte
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, thread_id, text, child_ids, source_words, word_count, compression_ratio, extractive, embedding
		FROM pyramid_apex WHERE thread_id = ?`, threadID,
	).Scan(&a.ID, &a.ThreadID, &a.Text, &children, &a.SourceWords, &a.WordCount,
		&a.CompressionRatio, &a.Extractive, &vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pyramid apex: %w", err)
	}
	if err := decodeJSON(sql.NullString{String: children, Valid: true}, &a.ChildIDs); err != nil {
		return nil, err
	}
	a.Embedding = vectorFrom(vec)
	return &a, nil
}

var tierTables = map[models.PyramidTier]string{
	models.TierChunk:   "pyramid_chunks",
	models.TierSummary: "pyramid_summaries",
	models.TierApex:    "pyramid_apex",
}

// NearestPyramid ranks one tier's embedded entries by cosine similarity to vec.
// A stored vector of another dimension is an error.
func (b *Backend) NearestPyramid(ctx context.Context, tier models.PyramidTier, vec []float32, limit int, threadID string) ([]models.PyramidHit, error) {
	if !b.vector {
		return nil, errVectorDisabled
	}
	table, ok := tierTables[tier]
	if !ok {
		return nil, fmt.Errorf("unknown pyramid tier %q", tier)
	}

	query := `SELECT id, thread_id, text, embedding FROM ` + table + ` WHERE embedding IS NOT NULL`
	var args []any
	if threadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, threadID)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("nearest %s: %w", tier, err)
	}
	defer rows.Close()

	hits := []models.PyramidHit{}
	for rows.Next() {
		hit := models.PyramidHit{Tier: tier}
		var blob []byte
		if err := rows.Scan(&hit.ID, &hit.ThreadID, &hit.Text, &blob); err != nil {
			return nil, err
		}
		sim, err := embedding.CosineSimilarity(vec, embedding.Decode(blob))
		if err != nil {
			return nil, fmt.Errorf("nearest %s: %s: %w", tier, hit.ID, err)
		}
		hit.Similarity = sim
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearest %s: %w", tier, err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// vectorBlob encodes vec, NULL when empty or zero.
func vectorBlob(vec []float32) any {
	if len(vec) == 0 || embedding.IsZero(vec) {
		return nil
	}
	return embedding.Encode(vec)
}

func vectorFrom(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	return embedding.Decode(blob)
}
