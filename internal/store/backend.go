package store

import (
	"context"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

// Capabilities describes optional features of a storage engine.
type Capabilities struct {
	// Vector reports whether nearest-neighbour search over stored embeddings is available.
	Vector bool
}

// FindQuery is a pushed-down node lookup.
type FindQuery struct {
	Predicates  []Predicate
	AllVersions bool // false restricts to lineage heads
	Limit       int  // 0 means no limit
	Offset      int
}

// Backend is a storage engine. Implementations: internal/sqlite, internal/db.
// Lookups of unknown keys return nil, nil.
type Backend interface {
	Capabilities() Capabilities
	// CanPushDown reports whether the engine evaluates p itself.
	CanPushDown(p Predicate) bool

	NodeBackend
	LinkBackend
	BlobBackend
	BatchBackend
	EmbeddingBackend
	PyramidBackend

	Close() error
}

// NodeBackend stores immutable node rows, the per-lineage head pointer and audit records.
type NodeBackend interface {
	// InsertNode writes a first version: the row, its head pointer and its audit record.
	InsertNode(ctx context.Context, node *models.ContentNode, rec *models.VersionRecord) error
	// InsertVersion writes a follow-up version if the lineage head is still at
	// expectedHead, otherwise returns ErrVersionConflict and writes nothing.
	InsertVersion(ctx context.Context, node *models.ContentNode, rec *models.VersionRecord, expectedHead int) error

	GetNode(ctx context.Context, id string) (*models.ContentNode, error)
	GetHead(ctx context.Context, rootID string) (*models.ContentNode, error)
	// GetNodeByHash returns the highest version among rows with hash.
	GetNodeByHash(ctx context.Context, hash string) (*models.ContentNode, error)
	// ListVersions returns every row of a lineage, oldest first.
	ListVersions(ctx context.Context, rootID string) ([]models.ContentNode, error)
	// ListVersionRecords returns a lineage's audit records, oldest first.
	ListVersionRecords(ctx context.Context, rootID string) ([]models.VersionRecord, error)

	// FindNodes evaluates pushed predicates, newest first.
	FindNodes(ctx context.Context, q FindQuery) ([]models.ContentNode, error)
	CountNodes(ctx context.Context, q FindQuery) (int, error)
	// LexicalSearch ranks lineage heads by full-text relevance, best first.
	// Malformed query syntax is returned as an error.
	LexicalSearch(ctx context.Context, query string, limit int) ([]models.ScoredNode, error)
}

// LinkBackend stores typed edges with (source, target, type) as natural identity.
type LinkBackend interface {
	// UpsertLink replaces any link with the same source, target and type.
	UpsertLink(ctx context.Context, link *models.ContentLink) error
	FindLinks(ctx context.Context, nodeID string, q models.LinkQuery) ([]models.ContentLink, error)
	LinksByType(ctx context.Context, linkType models.LinkType) ([]models.ContentLink, error)
}

// BlobBackend stores content-addressed payloads.
type BlobBackend interface {
	HasBlob(ctx context.Context, hash string) (bool, error)
	// PutBlob writes blob unless its hash exists and reports whether it wrote.
	PutBlob(ctx context.Context, blob *models.ContentBlob) (bool, error)
	GetBlob(ctx context.Context, hash string) (*models.ContentBlob, error)
}

// BatchBackend stores import batch records.
type BatchBackend interface {
	SaveBatch(ctx context.Context, batch *models.ImportBatch) error
	GetBatch(ctx context.Context, id string) (*models.ImportBatch, error)
	ListBatches(ctx context.Context, limit int) ([]models.ImportBatch, error)
}

// EmbeddingBackend stores one embedding per node row.
type EmbeddingBackend interface {
	PutEmbedding(ctx context.Context, e *models.NodeEmbedding) error
	GetEmbedding(ctx context.Context, nodeID string) (*models.NodeEmbedding, error)
	DeleteEmbeddings(ctx context.Context, nodeIDs []string) (int, error)
	// NodesNeedingEmbedding returns lineage heads with no embedding or one
	// stamped with a different content hash.
	NodesNeedingEmbedding(ctx context.Context, limit int) ([]models.ContentNode, error)
	// EmbeddedNodes returns the nodes that have an embedding.
	EmbeddedNodes(ctx context.Context) ([]models.ContentNode, error)
	// NearestNodes requires Capabilities().Vector.
	NearestNodes(ctx context.Context, vec []float32, limit int) ([]models.ScoredNode, error)
}

// PyramidBackend stores per-thread pyramids.
type PyramidBackend interface {
	// SavePyramid replaces every tier stored for the thread.
	SavePyramid(ctx context.Context, p *models.Pyramid) error
	GetPyramid(ctx context.Context, threadID string) (*models.Pyramid, error)
	// NearestPyramid requires Capabilities().Vector. An empty threadID searches all threads.
	NearestPyramid(ctx context.Context, tier models.PyramidTier, vec []float32, limit int, threadID string) ([]models.PyramidHit, error)
}
