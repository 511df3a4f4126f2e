// Package store implements the versioned content graph over a pluggable storage engine.
//
// Node rows are immutable: an update inserts a new row that points at its
// parent and shares the lineage root, and the engine moves the lineage head
// with a compare-and-swap on the expected head version.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/contentgraph/internal/idgen"
	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/models"
)

// Sentinel errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrVersionConflict indicates the lineage head moved since the caller read it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrVectorUnavailable indicates the storage engine has no vector search.
	ErrVectorUnavailable = errors.New("vector search unavailable")

	// ErrInvalidInput indicates a request the store cannot act on.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the content graph. It holds no write lock: callers serialize
// writers; concurrent updates of one lineage are caught by the version CAS.
type Store struct {
	backend Backend
	logger  *slog.Logger
	newID   idgen.Generator
	now     func() time.Time
	metrics *metrics.Collector
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIDGenerator sets the generator for node, link, version and batch ids.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.newID = g }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records store timings.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		newID:   idgen.UUIDv7(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capabilities reports the engine's optional features.
func (s *Store) Capabilities() Capabilities {
	return s.backend.Capabilities()
}

// Close closes the storage engine.
func (s *Store) Close() error {
	return s.backend.Close()
}

// CreateNode stores the first version of a node.
func (s *Store) CreateNode(ctx context.Context, in models.NodeInput) (*models.ContentNode, error) {
	if in.Source.Type == "" {
		return nil, fmt.Errorf("%w: source type required", ErrInvalidInput)
	}

	id := s.newID()
	now := s.now()
	format := in.Format
	if format == "" {
		format = models.FormatText
	}
	meta := in.Metadata
	meta.WordCount = models.WordCount(in.Text)
	if meta.Tags == nil {
		meta.Tags = []string{}
	}

	node := &models.ContentNode{
		ID:          id,
		ContentHash: models.HashText(in.Text),
		URI:         models.NodeURI(in.Source.Type, in.Source.OriginalID, id),
		Content: models.Content{
			Text:      in.Text,
			Format:    format,
			Rendered:  in.Rendered,
			BinaryRef: in.BinaryRef,
		},
		Metadata: meta,
		Source:   in.Source,
		Version: models.Version{
			Number:    1,
			RootID:    id,
			Operation: operationOr(in.Source, models.OperationCreate),
			Operator:  in.Operator,
		},
		Anchors:    in.Anchors,
		OwnerID:    in.OwnerID,
		InsertedAt: now,
	}
	rec := &models.VersionRecord{
		ID:            s.newID(),
		NodeID:        id,
		RootID:        id,
		VersionNumber: 1,
		Operation:     node.Version.Operation,
		Operator:      in.Operator,
		ChangeSummary: "created",
		CreatedAt:     now,
	}

	defer s.metrics.Time(metrics.OpStoreWrite)()
	if err := s.backend.InsertNode(ctx, node, rec); err != nil {
		s.metrics.RecordError(metrics.OpStoreWrite)
		return nil, fmt.Errorf("create node: %w", err)
	}
	s.logger.Debug("node created", "id", id, "source_type", in.Source.Type, "words", meta.WordCount)
	return node, nil
}

// operationOr marks imported nodes as imports.
func operationOr(src models.Source, def string) string {
	if src.BatchID != "" {
		return models.OperationImport
	}
	return def
}

// GetNode returns any version row by id, nil if unknown.
func (s *Store) GetNode(ctx context.Context, id string) (*models.ContentNode, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// GetNodeForOwner is GetNode with the soft ownership filter applied.
func (s *Store) GetNodeForOwner(ctx context.Context, id, owner string) (*models.ContentNode, error) {
	node, err := s.GetNode(ctx, id)
	if err != nil || node == nil || !node.VisibleTo(owner) {
		return nil, err
	}
	return node, nil
}

// GetNodeByHash returns the highest version carrying hash, nil if none.
// Hash uniqueness is not enforced; callers check before inserting.
func (s *Store) GetNodeByHash(ctx context.Context, hash string) (*models.ContentNode, error) {
	node, err := s.backend.GetNodeByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get node by hash: %w", err)
	}
	return node, nil
}

// UpdateOptions describes who changed a node and what head they expect.
type UpdateOptions struct {
	Operation string // default "update"
	Operator  string
	// ExpectedVersion is the head version the caller read. Zero means the
	// version of the row being updated.
	ExpectedVersion int
}

// UpdateNode inserts a new version derived from row id. It returns nil, nil
// when id is unknown and ErrVersionConflict when the lineage head is not at
// the expected version. The row id itself is never modified.
func (s *Store) UpdateNode(ctx context.Context, id string, patch models.NodePatch, opts UpdateOptions) (*models.ContentNode, error) {
	old, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	if old == nil {
		return nil, nil
	}

	expected := old.Version.Number
	if opts.ExpectedVersion != 0 && opts.ExpectedVersion != expected {
		return nil, fmt.Errorf("update node %s: %w: expected version %d, row is version %d",
			id, ErrVersionConflict, opts.ExpectedVersion, expected)
	}
	operation := opts.Operation
	if operation == "" {
		operation = models.OperationUpdate
	}

	next := applyPatch(old, patch)
	next.ID = s.newID()
	next.InsertedAt = s.now()
	next.Version = models.Version{
		Number:    expected + 1,
		ParentID:  old.ID,
		RootID:    old.Version.RootID,
		Operation: operation,
		Operator:  opts.Operator,
	}
	if old.Source.OriginalID == "" {
		next.URI = old.URI
	}

	rec := &models.VersionRecord{
		ID:              s.newID(),
		NodeID:          next.ID,
		RootID:          next.Version.RootID,
		VersionNumber:   next.Version.Number,
		ParentVersionID: old.ID,
		Operation:       operation,
		Operator:        opts.Operator,
		ChangeSummary:   changeSummary(old, next),
		CreatedAt:       next.InsertedAt,
	}

	defer s.metrics.Time(metrics.OpStoreWrite)()
	if err := s.backend.InsertVersion(ctx, next, rec, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Warn("version conflict", "id", id, "root", old.Version.RootID, "expected", expected)
		} else {
			s.metrics.RecordError(metrics.OpStoreWrite)
		}
		return nil, fmt.Errorf("update node %s: %w", id, err)
	}
	s.logger.Debug("node updated", "id", next.ID, "parent", old.ID, "version", next.Version.Number)
	return next, nil
}

// applyPatch returns a copy of old with the patch applied and derived fields recomputed.
func applyPatch(old *models.ContentNode, p models.NodePatch) *models.ContentNode {
	n := *old
	n.Metadata.Tags = append([]string(nil), old.Metadata.Tags...)
	if p.Text != nil {
		n.Content.Text = *p.Text
	}
	if p.Format != nil {
		n.Content.Format = *p.Format
	}
	if p.Rendered != nil {
		n.Content.Rendered = *p.Rendered
	}
	if p.Title != nil {
		n.Metadata.Title = *p.Title
	}
	if p.Author != nil {
		n.Metadata.Author = *p.Author
	}
	if p.Tags != nil {
		n.Metadata.Tags = append([]string{}, p.Tags...)
	}
	if p.Extra != nil {
		extra := make(map[string]any, len(old.Metadata.Extra)+len(p.Extra))
		for k, v := range old.Metadata.Extra {
			extra[k] = v
		}
		for k, v := range p.Extra {
			extra[k] = v
		}
		n.Metadata.Extra = extra
	}
	if p.Anchors != nil {
		n.Anchors = p.Anchors
	}
	if p.OwnerID != nil {
		n.OwnerID = *p.OwnerID
	}
	n.ContentHash = models.HashText(n.Content.Text)
	n.Metadata.WordCount = models.WordCount(n.Content.Text)
	return &n
}

// NodeHistory returns the audit records of the lineage containing id, oldest first.
func (s *Store) NodeHistory(ctx context.Context, id string) ([]models.VersionRecord, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("node history: %w", err)
	}
	if node == nil {
		return nil, nil
	}
	recs, err := s.backend.ListVersionRecords(ctx, node.Version.RootID)
	if err != nil {
		return nil, fmt.Errorf("node history: %w", err)
	}
	return recs, nil
}

// Versions returns every row of the lineage containing id, oldest first.
func (s *Store) Versions(ctx context.Context, id string) ([]models.ContentNode, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	if node == nil {
		return nil, nil
	}
	versions, err := s.backend.ListVersions(ctx, node.Version.RootID)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	return versions, nil
}

// Head returns the newest row of the lineage containing id.
func (s *Store) Head(ctx context.Context, id string) (*models.ContentNode, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil || node == nil {
		return nil, err
	}
	head, err := s.backend.GetHead(ctx, node.Version.RootID)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	return head, nil
}
