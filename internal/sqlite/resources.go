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

// Blobs

func (b *Backend) HasBlob(ctx context.Context, hash string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE hash = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has blob: %w", err)
	}
	return true, nil
}

func (b *Backend) PutBlob(ctx context.Context, blob *models.ContentBlob) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blobs (hash, mime_type, size, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		blob.Hash, blob.MIMEType, blob.Size, blob.Data, blob.CreatedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("put blob: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put blob: %w", err)
	}
	return n > 0, nil
}

func (b *Backend) GetBlob(ctx context.Context, hash string) (*models.ContentBlob, error) {
	var (
		blob    models.ContentBlob
		created int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT hash, mime_type, size, data, created_at FROM blobs WHERE hash = ?`, hash,
	).Scan(&blob.Hash, &blob.MIMEType, &blob.Size, &blob.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	blob.CreatedAt = nanosTime(created)
	return &blob, nil
}

// Import batches

const batchColumns = `id, source_type, source_path, status, nodes, skipped, links, errors, error, started_at, completed_at`

func (b *Backend) SaveBatch(ctx context.Context, batch *models.ImportBatch) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO import_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			nodes = excluded.nodes,
			skipped = excluded.skipped,
			links = excluded.links,
			errors = excluded.errors,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		batch.ID, batch.SourceType, batch.SourcePath, string(batch.Status),
		batch.Counts.Nodes, batch.Counts.Skipped, batch.Counts.Links, batch.Counts.Errors, batch.Error,
		batch.StartedAt.UnixNano(), toNanos(batch.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

func (b *Backend) GetBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	batches, err := scanBatches(rows)
	if err != nil || len(batches) == 0 {
		return nil, err
	}
	return &batches[0], nil
}

func (b *Backend) ListBatches(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM import_batches ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return scanBatches(rows)
}

func scanBatches(rows *sql.Rows) ([]models.ImportBatch, error) {
	defer rows.Close()
	batches := []models.ImportBatch{}
	for rows.Next() {
		var (
			batch     models.ImportBatch
			status    string
			started   int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&batch.ID, &batch.SourceType, &batch.SourcePath, &status,
			&batch.Counts.Nodes, &batch.Counts.Skipped, &batch.Counts.Links, &batch.Counts.Errors,
			&batch.Error, &started, &completed); err != nil {
			return nil, err
		}
		batch.Status = models.BatchStatus(status)
		batch.StartedAt = nanosTime(started)
		batch.CompletedAt = fromNanos(completed)
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// Embeddings

func (b *Backend) PutEmbedding(ctx context.Context, e *models.NodeEmbedding) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO node_embeddings (node_id, content_hash, model, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (node_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			model = excluded.model,
			dimension = excluded.dimension,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		e.NodeID, e.ContentHash, e.Model, len(e.Vector), embedding.Encode(e.Vector), e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

func (b *Backend) GetEmbedding(ctx context.Context, nodeID string) (*models.NodeEmbedding, error) {
	var (
		e       models.NodeEmbedding
		vec     []byte
		created int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT node_id, content_hash, model, vector, created_at FROM node_embeddings WHERE node_id = ?`, nodeID,
	).Scan(&e.NodeID, &e.ContentHash, &e.Model, &vec, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	e.Vector = embedding.Decode(vec)
	e.CreatedAt = nanosTime(created)
	return &e, nil
}

func (b *Backend) DeleteEmbeddings(ctx context.Context, nodeIDs []string) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM node_embeddings WHERE node_id IN (`+placeholders(len(nodeIDs))+`)`, stringArgs(nodeIDs)...)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	return int(n), nil
}

func (b *Backend) NodesNeedingEmbedding(ctx context.Context, limit int) ([]models.ContentNode, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		JOIN node_heads h ON h.head_id = n.id
		LEFT JOIN node_embeddings e ON e.node_id = n.id
		WHERE e.node_id IS NULL OR e.content_hash != n.content_hash
		ORDER BY n.inserted_at, n.rowid
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("nodes needing embedding: %w", err)
	}
	return scanNodes(rows)
}

func (b *Backend) EmbeddedNodes(ctx context.Context) ([]models.ContentNode, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		JOIN node_embeddings e ON e.node_id = n.id
		ORDER BY n.inserted_at, n.rowid`)
	if err != nil {
		return nil, fmt.Errorf("embedded nodes: %w", err)
	}
	return scanNodes(rows)
}

// NearestNodes scans every lineage head embedding and ranks by cosine similarity.
// A stored vector of another dimension fails the search with
// embedding.ErrDimensionMismatch.
func (b *Backend) NearestNodes(ctx context.Context, vec []float32, limit int) ([]models.ScoredNode, error) {
	if !b.vector {
		return nil, errVectorDisabled
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`, e.vector FROM nodes n
		JOIN node_heads h ON h.head_id = n.id
		JOIN node_embeddings e ON e.node_id = n.id`)
	if err != nil {
		return nil, fmt.Errorf("nearest nodes: %w", err)
	}
	defer rows.Close()

	hits := []models.ScoredNode{}
	for rows.Next() {
		var blob []byte
		n, err := scanNode(scanWithExtra{rows, &blob})
		if err != nil {
			return nil, fmt.Errorf("nearest nodes: %w", err)
		}
		sim, err := embedding.CosineSimilarity(vec, embedding.Decode(blob))
		if err != nil {
			return nil, fmt.Errorf("nearest nodes: node %s: %w", n.ID, err)
		}
		hits = append(hits, models.ScoredNode{Node: *n, Score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearest nodes: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var errVectorDisabled = errors.New("sqlite: vector search not enabled")
