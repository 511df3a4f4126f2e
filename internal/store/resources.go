package store

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/models"
)

// StoreBlob stores data under its sha256 hash and returns the hash.
// Bytes already stored are not written again.
func (s *Store) StoreBlob(ctx context.Context, data []byte, mimeType string) (string, error) {
	hash := models.HashBytes(data)

	exists, err := s.backend.HasBlob(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	if exists {
		s.logger.Debug("blob already stored", "hash", hash)
		return hash, nil
	}

	written, err := s.backend.PutBlob(ctx, &models.ContentBlob{
		Hash:      hash,
		MIMEType:  mimeType,
		Size:      int64(len(data)),
		Data:      data,
		CreatedAt: s.now(),
	})
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	s.logger.Debug("blob stored", "hash", hash, "size", len(data), "written", written)
	return hash, nil
}

// GetBlob returns a blob by hash, nil if unknown.
func (s *Store) GetBlob(ctx context.Context, hash string) (*models.ContentBlob, error) {
	blob, err := s.backend.GetBlob(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return blob, nil
}

// CreateBatch records a new pending import batch.
func (s *Store) CreateBatch(ctx context.Context, sourceType, sourcePath string) (*models.ImportBatch, error) {
	batch := &models.ImportBatch{
		ID:         s.newID(),
		SourceType: sourceType,
		SourcePath: sourcePath,
		Status:     models.BatchPending,
		StartedAt:  s.now(),
	}
	if err := s.backend.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return batch, nil
}

// SaveBatch persists a batch's status and counts.
func (s *Store) SaveBatch(ctx context.Context, batch *models.ImportBatch) error {
	if err := s.backend.SaveBatch(ctx, batch); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch by id, nil if unknown.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	batch, err := s.backend.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns batches, most recent first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	batches, err := s.backend.ListBatches(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// PutEmbedding stores vec for a node, stamped with the node's current content hash.
func (s *Store) PutEmbedding(ctx context.Context, nodeID, model string, vec []float32) error {
	node, err := s.backend.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	if node == nil {
		return fmt.Errorf("put embedding: %w: unknown node %s", ErrInvalidInput, nodeID)
	}
	err = s.backend.PutEmbedding(ctx, &models.NodeEmbedding{
		NodeID:      nodeID,
		ContentHash: node.ContentHash,
		Model:       model,
		Vector:      vec,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns a node's embedding, nil if none.
func (s *Store) GetEmbedding(ctx context.Context, nodeID string) (*models.NodeEmbedding, error) {
	e, err := s.backend.GetEmbedding(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return e, nil
}

// IsEmbeddingStale reports whether the node's embedding is missing or was
// computed from different content. Unknown nodes are not stale.
func (s *Store) IsEmbeddingStale(ctx context.Context, nodeID string) (bool, error) {
	node, err := s.backend.GetNode(ctx, nodeID)
	if err != nil {
		return false, fmt.Errorf("embedding stale: %w", err)
	}
	if node == nil {
		return false, nil
	}
	e, err := s.backend.GetEmbedding(ctx, nodeID)
	if err != nil {
		return false, fmt.Errorf("embedding stale: %w", err)
	}
	return e == nil || e.ContentHash != node.ContentHash, nil
}

// NodesNeedingEmbedding returns lineage heads with a missing or stale embedding.
func (s *Store) NodesNeedingEmbedding(ctx context.Context, limit int) ([]models.ContentNode, error) {
	nodes, err := s.backend.NodesNeedingEmbedding(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("nodes needing embedding: %w", err)
	}
	return nodes, nil
}

// EmbeddedNodes returns every node that has an embedding.
func (s *Store) EmbeddedNodes(ctx context.Context) ([]models.ContentNode, error) {
	nodes, err := s.backend.EmbeddedNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedded nodes: %w", err)
	}
	return nodes, nil
}

// DeleteEmbeddings removes the embeddings of the given nodes and returns how many were removed.
func (s *Store) DeleteEmbeddings(ctx context.Context, nodeIDs []string) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	n, err := s.backend.DeleteEmbeddings(ctx, nodeIDs)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	return n, nil
}

// SimilarNodes returns the nodes nearest to vec. It fails with
// ErrVectorUnavailable when the engine has no vector search.
func (s *Store) SimilarNodes(ctx context.Context, vec []float32, limit int) ([]models.ScoredNode, error) {
	if !s.backend.Capabilities().Vector {
		return nil, ErrVectorUnavailable
	}
	defer s.metrics.Time(metrics.OpVectorSearch)()
	hits, err := s.backend.NearestNodes(ctx, vec, limit)
	if err != nil {
		s.metrics.RecordError(metrics.OpVectorSearch)
		return nil, fmt.Errorf("similar nodes: %w", err)
	}
	return hits, nil
}

// SavePyramid replaces the stored pyramid of p.ThreadID.
func (s *Store) SavePyramid(ctx context.Context, p *models.Pyramid) error {
	if p.ThreadID == "" {
		return fmt.Errorf("%w: pyramid without thread id", ErrInvalidInput)
	}
	defer s.metrics.Time(metrics.OpStoreWrite)()
	if err := s.backend.SavePyramid(ctx, p); err != nil {
		s.metrics.RecordError(metrics.OpStoreWrite)
		return fmt.Errorf("save pyramid: %w", err)
	}
	return nil
}

// GetPyramid returns a thread's pyramid, nil if none was built.
func (s *Store) GetPyramid(ctx context.Context, threadID string) (*models.Pyramid, error) {
	p, err := s.backend.GetPyramid(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get pyramid: %w", err)
	}
	return p, nil
}

// SearchPyramidTier returns the tier entries nearest to vec. It fails with
// ErrVectorUnavailable when the engine has no vector search.
func (s *Store) SearchPyramidTier(ctx context.Context, tier models.PyramidTier, vec []float32, limit int, threadID string) ([]models.PyramidHit, error) {
	if !s.backend.Capabilities().Vector {
		return nil, ErrVectorUnavailable
	}
	defer s.metrics.Time(metrics.OpVectorSearch)()
	hits, err := s.backend.NearestPyramid(ctx, tier, vec, limit, threadID)
	if err != nil {
		s.metrics.RecordError(metrics.OpVectorSearch)
		return nil, fmt.Errorf("search pyramid %s: %w", tier, err)
	}
	return hits, nil
}
