package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

// Capabilities reports HNSW-backed vector search.
func (c *Client) Capabilities() store.Capabilities {
	return store.Capabilities{Vector: true}
}

// =============================================================================
// BLOBS
// =============================================================================

type blobRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	MIMEType  string                 `json:"mime_type"`
	Size      int64                  `json:"size"`
	Data      []byte                 `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
}

// HasBlob reports whether a blob with hash exists.
func (c *Client) HasBlob(ctx context.Context, hash string) (bool, error) {
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db,
		`SELECT count() AS c FROM type::record("blob", $hash)`, map[string]any{"hash": hash})
	if err != nil {
		return false, fmt.Errorf("has blob: %w", wrapQueryError(err))
	}
	row := first(results)
	return row != nil && row.C > 0, nil
}

// PutBlob creates the blob record unless it exists.
func (c *Client) PutBlob(ctx context.Context, blob *models.ContentBlob) (bool, error) {
	sql := `
		CREATE type::record("blob", $hash) CONTENT {
			mime_type: $mime_type,
			size: $size,
			data: $data,
			created_at: $created_at
		}
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"hash":       blob.Hash,
		"mime_type":  blob.MIMEType,
		"size":       blob.Size,
		"data":       blob.Data,
		"created_at": blob.CreatedAt.UTC(),
	})
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("put blob: %w", err)
	}
	return true, nil
}

// GetBlob returns a blob by hash.
func (c *Client) GetBlob(ctx context.Context, hash string) (*models.ContentBlob, error) {
	results, err := surrealdb.Query[[]blobRow](ctx, c.db,
		`SELECT * FROM type::record("blob", $hash)`, map[string]any{"hash": hash})
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", wrapQueryError(err))
	}
	row := first(results)
	if row == nil {
		return nil, nil
	}
	id, err := models.RecordIDString(row.ID)
	if err != nil {
		return nil, err
	}
	return &models.ContentBlob{
		Hash:      id,
		MIMEType:  row.MIMEType,
		Size:      row.Size,
		Data:      row.Data,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

// =============================================================================
// IMPORT BATCHES
// =============================================================================

type batchRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	SourceType  string                 `json:"source_type"`
	SourcePath  string                 `json:"source_path"`
	Status      string                 `json:"status"`
	Nodes       int                    `json:"nodes"`
	Skipped     int                    `json:"skipped"`
	Links       int                    `json:"links"`
	Errors      int                    `json:"errors"`
	Error       string                 `json:"error"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func (r *batchRow) toBatch() (models.ImportBatch, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.ImportBatch{}, err
	}
	return models.ImportBatch{
		ID:         id,
		SourceType: r.SourceType,
		SourcePath: r.SourcePath,
		Status:     models.BatchStatus(r.Status),
		Counts: models.BatchCounts{
			Nodes:   r.Nodes,
			Skipped: r.Skipped,
			Links:   r.Links,
			Errors:  r.Errors,
		},
		Error:       r.Error,
		StartedAt:   r.StartedAt.UTC(),
		CompletedAt: utcPtr(r.CompletedAt),
	}, nil
}

// SaveBatch creates or replaces a batch record.
func (c *Client) SaveBatch(ctx context.Context, b *models.ImportBatch) error {
	content := map[string]any{
		"source_type": b.SourceType,
		"source_path": b.SourcePath,
		"status":      string(b.Status),
		"nodes":       b.Counts.Nodes,
		"skipped":     b.Counts.Skipped,
		"links":       b.Counts.Links,
		"errors":      b.Counts.Errors,
		"error":       b.Error,
		"started_at":  b.StartedAt.UTC(),
	}
	if b.CompletedAt != nil {
		content["completed_at"] = b.CompletedAt.UTC()
	}
	_, err := surrealdb.Query[any](ctx, c.db,
		`UPSERT type::record("import_batch", $id) CONTENT $batch`,
		map[string]any{"id": b.ID, "batch": content})
	if err != nil {
		return fmt.Errorf("save batch: %w", wrapQueryError(err))
	}
	return nil
}

// GetBatch returns a batch by id.
func (c *Client) GetBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	results, err := surrealdb.Query[[]batchRow](ctx, c.db,
		`SELECT * FROM type::record("import_batch", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", wrapQueryError(err))
	}
	row := first(results)
	if row == nil {
		return nil, nil
	}
	b, err := row.toBatch()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns batches, newest first. limit <= 0 returns all.
func (c *Client) ListBatches(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	sql := `SELECT * FROM import_batch ORDER BY started_at DESC`
	vars := map[string]any{}
	if limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = limit
	}
	results, err := surrealdb.Query[[]batchRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", wrapQueryError(err))
	}
	rows := resultRows(results, 0)
	batches := make([]models.ImportBatch, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toBatch()
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

type embeddingRow struct {
	NodeID      string    `json:"node_id"`
	ContentHash string    `json:"content_hash"`
	Model       string    `json:"model"`
	Vector      []float32 `json:"vector"`
	CreatedAt   time.Time `json:"created_at"`
	Score       float64   `json:"score,omitempty"`
}

// PutEmbedding stores a node's embedding, replacing any previous one.
func (c *Client) PutEmbedding(ctx context.Context, e *models.NodeEmbedding) error {
	sql := `
		UPSERT type::record("node_embedding", $id) CONTENT {
			node: type::record("node", $id),
			content_hash: $hash,
			model: $model,
			vector: $vector,
			created_at: $created_at
		}
	`
	vector := e.Vector
	if vector == nil {
		vector = []float32{}
	}
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":         e.NodeID,
		"hash":       e.ContentHash,
		"model":      e.Model,
		"vector":     vector,
		"created_at": e.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("put embedding: %w", wrapQueryError(err))
	}
	return nil
}

// GetEmbedding returns a node's embedding.
func (c *Client) GetEmbedding(ctx context.Context, nodeID string) (*models.NodeEmbedding, error) {
	sql := `
		SELECT record::id(id) AS node_id, content_hash, model, vector, created_at
		FROM type::record("node_embedding", $id)
	`
	results, err := surrealdb.Query[[]embeddingRow](ctx, c.db, sql, map[string]any{"id": nodeID})
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", wrapQueryError(err))
	}
	row := first(results)
	if row == nil {
		return nil, nil
	}
	return &models.NodeEmbedding{
		NodeID:      row.NodeID,
		ContentHash: row.ContentHash,
		Model:       row.Model,
		Vector:      row.Vector,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

// DeleteEmbeddings removes the embeddings of the given nodes.
func (c *Client) DeleteEmbeddings(ctx context.Context, nodeIDs []string) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	records := make([]surrealmodels.RecordID, len(nodeIDs))
	for i, id := range nodeIDs {
		records[i] = surrealmodels.NewRecordID("node_embedding", id)
	}
	results, err := surrealdb.Query[[]embeddingRow](ctx, c.db,
		`DELETE $records RETURN BEFORE`, map[string]any{"records": records})
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", wrapQueryError(err))
	}
	return len(resultRows(results, 0)), nil
}

// NodesNeedingEmbedding returns heads whose embedding is missing or stamped
// with another content hash, oldest first.
func (c *Client) NodesNeedingEmbedding(ctx context.Context, limit int) ([]models.ContentNode, error) {
	stamped, err := surrealdb.Query[[]embeddingRow](ctx, c.db,
		`SELECT record::id(id) AS node_id, content_hash FROM node_embedding`, nil)
	if err != nil {
		return nil, fmt.Errorf("list embedding stamps: %w", wrapQueryError(err))
	}
	hashes := make(map[string]string)
	for _, r := range resultRows(stamped, 0) {
		hashes[r.NodeID] = r.ContentHash
	}

	heads, err := c.queryNodes(ctx, "SELECT * FROM node WHERE "+headsOnly+" ORDER BY inserted_at ASC", nil)
	if err != nil {
		return nil, err
	}
	var stale []models.ContentNode
	for _, n := range heads {
		if hash, ok := hashes[n.ID]; ok && hash == n.ContentHash {
			continue
		}
		stale = append(stale, n)
		if limit > 0 && len(stale) == limit {
			break
		}
	}
	return stale, nil
}

// EmbeddedNodes returns the nodes that have an embedding.
func (c *Client) EmbeddedNodes(ctx context.Context) ([]models.ContentNode, error) {
	return c.queryNodes(ctx,
		`SELECT * FROM node WHERE id IN (SELECT VALUE node FROM node_embedding) ORDER BY inserted_at ASC`, nil)
}

// knnEffort is the HNSW search breadth used for every vector query.
const knnEffort = 40

// NearestNodes runs an HNSW query and keeps lineage heads. The index returns
// superseded rows too, so it over-fetches before filtering.
func (c *Client) NearestNodes(ctx context.Context, vec []float32, limit int) ([]models.ScoredNode, error) {
	if limit <= 0 {
		limit = 10
	}
	if embedding.IsZero(vec) {
		return []models.ScoredNode{}, nil
	}
	sql := fmt.Sprintf(`
		SELECT record::id(id) AS node_id, vector::similarity::cosine(vector, $vec) AS score
		FROM node_embedding
		WHERE vector <|%d,%d|> $vec
		ORDER BY score DESC
	`, limit*3, knnEffort)
	results, err := surrealdb.Query[[]embeddingRow](ctx, c.db, sql, map[string]any{"vec": vec})
	if err != nil {
		return nil, fmt.Errorf("nearest nodes: %w", wrapQueryError(err))
	}
	hits := resultRows(results, 0)
	if len(hits) == 0 {
		return []models.ScoredNode{}, nil
	}

	records := make([]surrealmodels.RecordID, len(hits))
	for i, h := range hits {
		records[i] = surrealmodels.NewRecordID("node", h.NodeID)
	}
	nodes, err := c.queryNodes(ctx,
		"SELECT * FROM $records WHERE "+headsOnly, map[string]any{"records": records})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ContentNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	scored := make([]models.ScoredNode, 0, limit)
	for _, h := range hits {
		n, ok := byID[h.NodeID]
		if !ok {
			continue
		}
		scored = append(scored, models.ScoredNode{Node: n, Score: h.Score})
		if len(scored) == limit {
			break
		}
	}
	return scored, nil
}
