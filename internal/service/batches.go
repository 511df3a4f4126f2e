package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

// Persistence debounce for running batches.
const (
	batchPersistInterval = 5 * time.Second
	batchPersistEvery    = 10
)

// Batch is an import batch in progress.
type Batch struct {
	mu          sync.RWMutex
	record      models.ImportBatch
	updates     int
	lastPersist time.Time
}

// ID returns the batch id.
func (b *Batch) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record.ID
}

// Snapshot returns a copy of the batch record.
func (b *Batch) Snapshot() models.ImportBatch {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec := b.record
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

// BatchTracker records import batches and persists their counts with
// debounced writes.
type BatchTracker struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	batches map[string]*Batch
}

// NewBatchTracker creates a tracker. logger defaults to slog.Default().
func NewBatchTracker(st *store.Store, logger *slog.Logger) *BatchTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchTracker{
		store:   st,
		logger:  logger,
		now:     time.Now,
		batches: make(map[string]*Batch),
	}
}

// Start creates a batch and marks it running.
func (t *BatchTracker) Start(ctx context.Context, sourceType, sourcePath string) (*Batch, error) {
	rec, err := t.store.CreateBatch(ctx, sourceType, sourcePath)
	if err != nil {
		return nil, err
	}
	rec.Status = models.BatchRunning
	if err := t.store.SaveBatch(ctx, rec); err != nil {
		return nil, err
	}

	b := &Batch{record: *rec, lastPersist: t.now()}
	t.mu.Lock()
	t.batches[rec.ID] = b
	t.mu.Unlock()

	t.logger.Info("batch started", "batch_id", rec.ID, "source_type", sourceType, "path", sourcePath)
	return b, nil
}

// Add adds delta to the batch counts. The record is persisted every
// batchPersistEvery updates or after batchPersistInterval.
func (t *BatchTracker) Add(ctx context.Context, b *Batch, delta models.BatchCounts) {
	b.mu.Lock()
	b.record.Counts.Nodes += delta.Nodes
	b.record.Counts.Skipped += delta.Skipped
	b.record.Counts.Links += delta.Links
	b.record.Counts.Errors += delta.Errors
	b.updates++

	persist := b.updates%batchPersistEvery == 0 || t.now().Sub(b.lastPersist) > batchPersistInterval
	var rec models.ImportBatch
	if persist {
		b.lastPersist = t.now()
		rec = b.record
	}
	b.mu.Unlock()

	if persist {
		if err := t.store.SaveBatch(ctx, &rec); err != nil {
			t.logger.Warn("failed to persist batch progress", "batch_id", rec.ID, "error", err)
		}
	}
}

// Complete marks the batch completed and persists it.
func (t *BatchTracker) Complete(ctx context.Context, b *Batch) error {
	rec := t.finish(b, models.BatchCompleted, "")
	if err := t.store.SaveBatch(ctx, &rec); err != nil {
		return err
	}
	t.logger.Info("batch completed", "batch_id", rec.ID,
		"nodes", rec.Counts.Nodes, "skipped", rec.Counts.Skipped, "links", rec.Counts.Links, "errors", rec.Counts.Errors)
	return nil
}

// Fail marks the batch failed with cause and persists it.
func (t *BatchTracker) Fail(ctx context.Context, b *Batch, cause error) {
	rec := t.finish(b, models.BatchFailed, cause.Error())
	if err := t.store.SaveBatch(ctx, &rec); err != nil {
		t.logger.Warn("failed to persist batch failure", "batch_id", rec.ID, "error", err)
	}
	t.logger.Error("batch failed", "batch_id", rec.ID, "error", cause)
}

func (t *BatchTracker) finish(b *Batch, status models.BatchStatus, msg string) models.ImportBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := t.now().UTC()
	b.record.Status = status
	b.record.Error = msg
	b.record.CompletedAt = &now
	return b.record
}

// Get returns a batch tracked by this process, falling back to the store.
func (t *BatchTracker) Get(ctx context.Context, id string) (*models.ImportBatch, error) {
	t.mu.RLock()
	b, ok := t.batches[id]
	t.mu.RUnlock()
	if ok {
		snap := b.Snapshot()
		return &snap, nil
	}
	return t.store.GetBatch(ctx, id)
}

// List returns stored batches, most recent first.
func (t *BatchTracker) List(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	batches, err := t.store.ListBatches(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}
