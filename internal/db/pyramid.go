package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
)

type pyramidRow struct {
	ID      surrealmodels.RecordID `json:"id"`
	Depth   int                    `json:"depth"`
	BuiltAt time.Time              `json:"built_at"`
}

type chunkRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	ThreadID  string                 `json:"thread_id"`
	Seq       int                    `json:"seq"`
	Text      string                 `json:"text"`
	Start     int                    `json:"start_offset"`
	End       int                    `json:"end_offset"`
	Boundary  string                 `json:"boundary"`
	WordCount int                    `json:"word_count"`
	Embedding []float32              `json:"embedding,omitempty"`
}

// synthesisRow decodes both pyramid_summary and pyramid_apex records.
type synthesisRow struct {
	ID               surrealmodels.RecordID `json:"id"`
	ThreadID         string                 `json:"thread_id"`
	Seq              int                    `json:"seq"`
	Text             string                 `json:"text"`
	ChildIDs         []string               `json:"child_ids"`
	SourceWords      int                    `json:"source_words"`
	WordCount        int                    `json:"word_count"`
	CompressionRatio float64                `json:"compression_ratio"`
	Extractive       bool                   `json:"extractive"`
	Embedding        []float32              `json:"embedding,omitempty"`
}

type pyramidHitRow struct {
	ID         surrealmodels.RecordID `json:"id"`
	ThreadID   string                 `json:"thread_id"`
	Text       string                 `json:"text"`
	Similarity float64                `json:"similarity"`
}

// tierTables maps tiers to their tables.
var tierTables = map[models.PyramidTier]string{
	models.TierChunk:   "pyramid_chunk",
	models.TierSummary: "pyramid_summary",
	models.TierApex:    "pyramid_apex",
}

// withEmbedding adds the embedding key when vec is usable. Zero vectors have
// no cosine direction and stay NONE.
func withEmbedding(content map[string]any, vec []float32) map[string]any {
	if len(vec) > 0 && !embedding.IsZero(vec) {
		content["embedding"] = vec
	}
	return content
}

// SavePyramid replaces every tier of the thread in one transaction.
func (c *Client) SavePyramid(ctx context.Context, p *models.Pyramid) error {
	chunks := make([]map[string]any, len(p.Chunks))
	for i, ch := range p.Chunks {
		chunks[i] = withEmbedding(map[string]any{
			"id":           ch.ID,
			"thread_id":    p.ThreadID,
			"seq":          ch.Seq,
			"text":         ch.Text,
			"start_offset": ch.Start,
			"end_offset":   ch.End,
			"boundary":     ch.Boundary,
			"word_count":   ch.WordCount,
		}, ch.Embedding)
	}
	summaries := make([]map[string]any, len(p.Summaries))
	for i, s := range p.Summaries {
		summaries[i] = withEmbedding(map[string]any{
			"id":                s.ID,
			"thread_id":         p.ThreadID,
			"seq":               s.Seq,
			"text":              s.Text,
			"child_ids":         nonNil(s.ChildIDs),
			"source_words":      s.SourceWords,
			"word_count":        s.WordCount,
			"compression_ratio": s.CompressionRatio,
			"extractive":        s.Extractive,
		}, s.Embedding)
	}

	vars := map[string]any{
		"thread":    p.ThreadID,
		"depth":     p.Depth,
		"built_at":  p.BuiltAt.UTC(),
		"chunks":    chunks,
		"summaries": summaries,
	}
	apexStmt := ""
	if p.Apex != nil {
		apexStmt = `CREATE type::record("pyramid_apex", $apex_id) CONTENT $apex;`
		vars["apex_id"] = p.Apex.ID
		vars["apex"] = withEmbedding(map[string]any{
			"thread_id":         p.ThreadID,
			"text":              p.Apex.Text,
			"child_ids":         nonNil(p.Apex.ChildIDs),
			"source_words":      p.Apex.SourceWords,
			"word_count":        p.Apex.WordCount,
			"compression_ratio": p.Apex.CompressionRatio,
			"extractive":        p.Apex.Extractive,
		}, p.Apex.Embedding)
	}

	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;
		DELETE pyramid_chunk WHERE thread_id = $thread;
		DELETE pyramid_summary WHERE thread_id = $thread;
		DELETE pyramid_apex WHERE thread_id = $thread;
		UPSERT type::record("pyramid", $thread) CONTENT { depth: $depth, built_at: $built_at };
		IF array::len($chunks) > 0 { INSERT INTO pyramid_chunk $chunks };
		IF array::len($summaries) > 0 { INSERT INTO pyramid_summary $summaries };
		%s
		COMMIT TRANSACTION;
	`, apexStmt)

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("save pyramid %s: %w", p.ThreadID, wrapQueryError(err))
	}
	return nil
}

// GetPyramid loads every tier of a thread.
func (c *Client) GetPyramid(ctx context.Context, threadID string) (*models.Pyramid, error) {
	head, err := surrealdb.Query[[]pyramidRow](ctx, c.db,
		`SELECT * FROM type::record("pyramid", $thread)`, map[string]any{"thread": threadID})
	if err != nil {
		return nil, fmt.Errorf("get pyramid: %w", wrapQueryError(err))
	}
	row := first(head)
	if row == nil {
		return nil, nil
	}
	p := &models.Pyramid{
		ThreadID:  threadID,
		Depth:     row.Depth,
		BuiltAt:   row.BuiltAt.UTC(),
		Chunks:    []models.PyramidChunk{},
		Summaries: []models.PyramidSummary{},
	}

	vars := map[string]any{"thread": threadID}
	chunks, err := surrealdb.Query[[]chunkRow](ctx, c.db,
		`SELECT * FROM pyramid_chunk WHERE thread_id = $thread ORDER BY seq ASC`, vars)
	if err != nil {
		return nil, fmt.Errorf("get pyramid chunks: %w", wrapQueryError(err))
	}
	for _, r := range resultRows(chunks, 0) {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		p.Chunks = append(p.Chunks, models.PyramidChunk{
			ID:        id,
			ThreadID:  r.ThreadID,
			Seq:       r.Seq,
			Text:      r.Text,
			Start:     r.Start,
			End:       r.End,
			Boundary:  r.Boundary,
			WordCount: r.WordCount,
			Embedding: r.Embedding,
		})
	}

	summaries, err := surrealdb.Query[[]synthesisRow](ctx, c.db,
		`SELECT * FROM pyramid_summary WHERE thread_id = $thread ORDER BY seq ASC`, vars)
	if err != nil {
		return nil, fmt.Errorf("get pyramid summaries: %w", wrapQueryError(err))
	}
	for _, r := range resultRows(summaries, 0) {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		p.Summaries = append(p.Summaries, models.PyramidSummary{
			ID:               id,
			ThreadID:         r.ThreadID,
			Seq:              r.Seq,
			Text:             r.Text,
			ChildIDs:         r.ChildIDs,
			SourceWords:      r.SourceWords,
			WordCount:        r.WordCount,
			CompressionRatio: r.CompressionRatio,
			Extractive:       r.Extractive,
			Embedding:        r.Embedding,
		})
	}

	apex, err := surrealdb.Query[[]synthesisRow](ctx, c.db,
		`SELECT * FROM pyramid_apex WHERE thread_id = $thread LIMIT 1`, vars)
	if err != nil {
		return nil, fmt.Errorf("get pyramid apex: %w", wrapQueryError(err))
	}
	if r := first(apex); r != nil {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		p.Apex = &models.PyramidApex{
			ID:               id,
			ThreadID:         r.ThreadID,
			Text:             r.Text,
			ChildIDs:         r.ChildIDs,
			SourceWords:      r.SourceWords,
			WordCount:        r.WordCount,
			CompressionRatio: r.CompressionRatio,
			Extractive:       r.Extractive,
			Embedding:        r.Embedding,
		}
	}
	return p, nil
}

// NearestPyramid ranks one tier by cosine similarity. Without a thread filter
// it uses the HNSW index; within a thread the candidate set is small and is
// scanned exactly.
func (c *Client) NearestPyramid(ctx context.Context, tier models.PyramidTier, vec []float32, limit int, threadID string) ([]models.PyramidHit, error) {
	table, ok := tierTables[tier]
	if !ok {
		return nil, fmt.Errorf("unknown pyramid tier %q", tier)
	}
	if limit <= 0 {
		limit = 10
	}
	if embedding.IsZero(vec) {
		return []models.PyramidHit{}, nil
	}

	vars := map[string]any{"vec": vec, "limit": limit}
	var sql string
	if threadID != "" {
		vars["thread"] = threadID
		sql = fmt.Sprintf(`
			SELECT id, thread_id, text, vector::similarity::cosine(embedding, $vec) AS similarity
			FROM %s
			WHERE thread_id = $thread AND embedding != NONE
			ORDER BY similarity DESC
			LIMIT $limit
		`, table)
	} else {
		sql = fmt.Sprintf(`
			SELECT id, thread_id, text, vector::similarity::cosine(embedding, $vec) AS similarity
			FROM %s
			WHERE embedding <|%d,%d|> $vec
			ORDER BY similarity DESC
		`, table, limit, knnEffort)
	}

	results, err := surrealdb.Query[[]pyramidHitRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("nearest %s: %w", tier, wrapQueryError(err))
	}
	rows := resultRows(results, 0)
	hits := make([]models.PyramidHit, 0, len(rows))
	for _, r := range rows {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, models.PyramidHit{
			Tier:       tier,
			ID:         id,
			ThreadID:   r.ThreadID,
			Text:       r.Text,
			Similarity: r.Similarity,
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}
