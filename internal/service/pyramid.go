package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/parser"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

// Summarizer condenses text. llm.Model implements it.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetWords int, instruction string) (string, error)
}

const (
	summaryInstruction = "Keep the order of events and the concrete details a reader would search for."
	apexInstruction    = "Synthesize the whole thread. Name its main themes, the key insights, and the conclusions or open questions it ends with."
)

// PyramidConfig tunes pyramid construction.
type PyramidConfig struct {
	ChunkMaxSize         int // bytes per L0 chunk
	ChunksPerSummary     int
	SummaryTargetWords   int
	ApexTargetWords      int
	MinWordsForSummaries int // threads below this get no L1 tier
	MinWordsForApex      int // threads below this or MinWordsForSummaries get no apex
	ExtractiveChars      int // length of the fallback summary
	TierMultiplier       int // per-tier candidate cap in search, times the limit
}

// DefaultPyramidConfig returns the standard tuning.
func DefaultPyramidConfig() PyramidConfig {
	return PyramidConfig{
		ChunkMaxSize:         4000,
		ChunksPerSummary:     5,
		SummaryTargetWords:   150,
		ApexTargetWords:      300,
		MinWordsForSummaries: 1000,
		MinWordsForApex:      1000,
		ExtractiveChars:      500,
		TierMultiplier:       3,
	}
}

// Stage is one step of a pyramid build.
type Stage string

const (
	StageChunk      Stage = "chunk"
	StageEmbedL0    Stage = "embed_l0"
	StageSummarize  Stage = "summarize"
	StageEmbedL1    Stage = "embed_l1"
	StageSynthesize Stage = "synthesize"
	StageEmbedApex  Stage = "embed_apex"
	StageStore      Stage = "store"
	StageDone       Stage = "done"
)

// StageStatus is the outcome of a stage.
type StageStatus string

const (
	StatusDone     StageStatus = "done"
	StatusSkipped  StageStatus = "skipped"
	StatusDegraded StageStatus = "degraded"
	StatusFailed   StageStatus = "failed"
)

// StageResult records what one stage did.
type StageResult struct {
	Stage  Stage
	Status StageStatus
	Detail string
}

// BuildResult is the outcome of building one thread's pyramid.
type BuildResult struct {
	Pyramid *models.Pyramid
	Stages  []StageResult
}

// Degraded reports whether any stage fell back to extractive text or zero vectors.
func (r *BuildResult) Degraded() bool {
	for _, st := range r.Stages {
		if st.Status == StatusDegraded {
			return true
		}
	}
	return false
}

// Stage returns the result recorded for stage, if any.
func (r *BuildResult) Stage(stage Stage) (StageResult, bool) {
	for _, st := range r.Stages {
		if st.Stage == stage {
			return st, true
		}
	}
	return StageResult{}, false
}

// PyramidService builds and searches chunk, summary and apex tiers per thread.
type PyramidService struct {
	store      *store.Store
	embedder   *embedding.Client
	summarizer Summarizer
	chunker    *parser.Chunker
	cfg        PyramidConfig
	logger     *slog.Logger
	metrics    *metrics.Collector
	now        func() time.Time
}

// PyramidOption configures a PyramidService.
type PyramidOption func(*PyramidService)

// WithPyramidConfig replaces the default tuning.
func WithPyramidConfig(cfg PyramidConfig) PyramidOption {
	return func(s *PyramidService) { s.cfg = cfg }
}

// WithPyramidLogger sets the logger.
func WithPyramidLogger(l *slog.Logger) PyramidOption {
	return func(s *PyramidService) { s.logger = l }
}

// WithPyramidMetrics records build timings.
func WithPyramidMetrics(m *metrics.Collector) PyramidOption {
	return func(s *PyramidService) { s.metrics = m }
}

// WithPyramidClock sets the build timestamp source.
func WithPyramidClock(now func() time.Time) PyramidOption {
	return func(s *PyramidService) { s.now = now }
}

// NewPyramidService creates a pyramid service. summarizer may be nil, in
// which case every summary is extractive.
func NewPyramidService(st *store.Store, embedder *embedding.Client, summarizer Summarizer, opts ...PyramidOption) *PyramidService {
	s := &PyramidService{
		store:      st,
		embedder:   embedder,
		summarizer: summarizer,
		cfg:        DefaultPyramidConfig(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.chunker = parser.NewChunker(parser.ChunkConfig{MaxSize: s.cfg.ChunkMaxSize})
	return s
}

// build carries the state of one thread through the stages.
type build struct {
	threadID string
	text     string
	words    int
	pyramid  *models.Pyramid
}

// Build runs the stage machine for one thread and stores the result,
// replacing any earlier pyramid of the thread. Provider failures degrade the
// affected stage; only store failures and cancellation fail the build.
func (s *PyramidService) Build(ctx context.Context, threadID, text string) (*BuildResult, error) {
	if threadID == "" || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: pyramid needs a thread id and text", store.ErrInvalidInput)
	}
	defer s.metrics.Time(metrics.OpPyramidBuild)()

	b := &build{
		threadID: threadID,
		text:     text,
		words:    models.WordCount(text),
		pyramid:  &models.Pyramid{ThreadID: threadID, Chunks: []models.PyramidChunk{}, Summaries: []models.PyramidSummary{}},
	}
	result := &BuildResult{Pyramid: b.pyramid}

	stage := StageChunk
	for stage != StageDone {
		if err := ctx.Err(); err != nil {
			result.Stages = append(result.Stages, StageResult{Stage: stage, Status: StatusFailed, Detail: err.Error()})
			return result, err
		}
		next, res, err := s.step(ctx, b, stage)
		result.Stages = append(result.Stages, res)
		s.logger.Debug("pyramid stage", "thread", threadID, "stage", res.Stage, "status", res.Status, "detail", res.Detail)
		if err != nil {
			s.metrics.RecordError(metrics.OpPyramidBuild)
			return result, fmt.Errorf("build pyramid %s: %s: %w", threadID, stage, err)
		}
		stage = next
	}

	s.logger.Info("pyramid built", "thread", threadID, "depth", b.pyramid.Depth,
		"chunks", len(b.pyramid.Chunks), "summaries", len(b.pyramid.Summaries), "degraded", result.Degraded())
	return result, nil
}

// step executes stage and returns the next one.
func (s *PyramidService) step(ctx context.Context, b *build, stage Stage) (Stage, StageResult, error) {
	switch stage {
	case StageChunk:
		s.chunk(b)
		return StageEmbedL0, done(stage, "%d chunks", len(b.pyramid.Chunks)), nil

	case StageEmbedL0:
		texts := make([]string, len(b.pyramid.Chunks))
		for i, c := range b.pyramid.Chunks {
			texts[i] = c.Text
		}
		vecs, res, err := s.embedAll(ctx, stage, texts)
		if err != nil {
			return "", res, err
		}
		for i := range b.pyramid.Chunks {
			b.pyramid.Chunks[i].Embedding = vecs[i]
		}
		return StageSummarize, res, nil

	case StageSummarize:
		if b.words < s.cfg.MinWordsForSummaries {
			return StageEmbedL1, skipped(stage, "%d words below %d", b.words, s.cfg.MinWordsForSummaries), nil
		}
		return StageEmbedL1, s.summarize(ctx, b), nil

	case StageEmbedL1:
		if len(b.pyramid.Summaries) == 0 {
			return StageSynthesize, skipped(stage, "no summaries"), nil
		}
		texts := make([]string, len(b.pyramid.Summaries))
		for i, sum := range b.pyramid.Summaries {
			texts[i] = sum.Text
		}
		vecs, res, err := s.embedAll(ctx, stage, texts)
		if err != nil {
			return "", res, err
		}
		for i := range b.pyramid.Summaries {
			b.pyramid.Summaries[i].Embedding = vecs[i]
		}
		return StageSynthesize, res, nil

	case StageSynthesize:
		if floor := s.apexMinWords(); b.words < floor {
			return StageStore, skipped(stage, "%d words below %d", b.words, floor), nil
		}
		return StageEmbedApex, s.synthesize(ctx, b), nil

	case StageEmbedApex:
		vec, err := s.embedder.Embed(ctx, b.pyramid.Apex.Text)
		if err != nil {
			b.pyramid.Apex.Embedding = s.embedder.Zero()
			return StageStore, degraded(stage, "zero vector: %v", err), nil
		}
		b.pyramid.Apex.Embedding = vec
		return StageStore, done(stage, "1 embedding"), nil

	case StageStore:
		b.pyramid.Depth = b.pyramid.ComputeDepth()
		b.pyramid.BuiltAt = s.now().UTC()
		if err := s.store.SavePyramid(ctx, b.pyramid); err != nil {
			return "", StageResult{Stage: stage, Status: StatusFailed, Detail: err.Error()}, err
		}
		return StageDone, done(stage, "depth %d", b.pyramid.Depth), nil
	}
	return "", StageResult{Stage: stage, Status: StatusFailed}, fmt.Errorf("unknown stage %q", stage)
}

// apexMinWords is the apex threshold. A thread too short for summaries never
// gets an apex.
func (s *PyramidService) apexMinWords() int {
	return max(s.cfg.MinWordsForApex, s.cfg.MinWordsForSummaries)
}

func (s *PyramidService) chunk(b *build) {
	for _, c := range s.chunker.Chunk(b.text) {
		b.pyramid.Chunks = append(b.pyramid.Chunks, models.PyramidChunk{
			ID:        fmt.Sprintf("%s_c%d", b.threadID, c.Seq),
			ThreadID:  b.threadID,
			Seq:       c.Seq,
			Text:      c.Text,
			Start:     c.Start,
			End:       c.End,
			Boundary:  string(c.Boundary),
			WordCount: c.WordCount,
		})
	}
}

// embedAll embeds texts, degrading failed items to zero vectors. Only
// cancellation is returned as an error.
func (s *PyramidService) embedAll(ctx context.Context, stage Stage, texts []string) ([][]float32, StageResult, error) {
	res, err := s.embedder.EmbedBatch(ctx, texts, embedding.BatchOptions{})
	if err != nil {
		return nil, StageResult{Stage: stage, Status: StatusFailed, Detail: err.Error()}, err
	}
	if len(res.Failed) > 0 {
		return res.Vectors, degraded(stage, "%d of %d embeddings are zero vectors", len(res.Failed), len(texts)), nil
	}
	return res.Vectors, done(stage, "%d embeddings", len(texts)), nil
}

func (s *PyramidService) summarize(ctx context.Context, b *build) StageResult {
	chunks := b.pyramid.Chunks
	per := max(s.cfg.ChunksPerSummary, 1)
	fallbacks := 0

	for start, seq := 0, 0; start < len(chunks); start, seq = start+per, seq+1 {
		group := chunks[start:min(start+per, len(chunks))]
		texts := make([]string, len(group))
		ids := make([]string, len(group))
		sourceWords := 0
		for i, c := range group {
			texts[i] = c.Text
			ids[i] = c.ID
			sourceWords += c.WordCount
		}

		text, extractive := s.summarizeOrExtract(ctx, strings.Join(texts, "\n\n"), group[0].Text, s.cfg.SummaryTargetWords, summaryInstruction)
		if extractive {
			fallbacks++
		}
		words := models.WordCount(text)
		b.pyramid.Summaries = append(b.pyramid.Summaries, models.PyramidSummary{
			ID:               fmt.Sprintf("%s_s%d", b.threadID, seq),
			ThreadID:         b.threadID,
			Seq:              seq,
			Text:             text,
			ChildIDs:         ids,
			SourceWords:      sourceWords,
			WordCount:        words,
			CompressionRatio: models.CompressionRatio(sourceWords, words),
			Extractive:       extractive,
		})
	}

	if fallbacks > 0 {
		return degraded(StageSummarize, "%d of %d summaries extractive", fallbacks, len(b.pyramid.Summaries))
	}
	return done(StageSummarize, "%d summaries", len(b.pyramid.Summaries))
}

// synthesize writes the apex over the summaries, or over the raw chunks when
// the thread has none.
func (s *PyramidService) synthesize(ctx context.Context, b *build) StageResult {
	var texts, ids []string
	if len(b.pyramid.Summaries) > 0 {
		for _, sum := range b.pyramid.Summaries {
			texts = append(texts, sum.Text)
			ids = append(ids, sum.ID)
		}
	} else {
		for _, c := range b.pyramid.Chunks {
			texts = append(texts, c.Text)
			ids = append(ids, c.ID)
		}
	}

	text, extractive := s.summarizeOrExtract(ctx, strings.Join(texts, "\n\n"), b.pyramid.Chunks[0].Text, s.cfg.ApexTargetWords, apexInstruction)
	words := models.WordCount(text)
	b.pyramid.Apex = &models.PyramidApex{
		ID:               b.threadID + "_apex",
		ThreadID:         b.threadID,
		Text:             text,
		ChildIDs:         ids,
		SourceWords:      b.words,
		WordCount:        words,
		CompressionRatio: models.CompressionRatio(b.words, words),
		Extractive:       extractive,
	}
	if extractive {
		return degraded(StageSynthesize, "extractive apex")
	}
	return done(StageSynthesize, "%d words from %d sources", words, len(texts))
}

// summarizeOrExtract calls the summarizer and falls back to the lead of
// firstChunk. It reports whether the fallback was used.
func (s *PyramidService) summarizeOrExtract(ctx context.Context, text, firstChunk string, targetWords int, instruction string) (string, bool) {
	if s.summarizer != nil {
		out, err := s.summarizer.Summarize(ctx, text, targetWords, instruction)
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out), false
		}
		if err == nil {
			err = errors.New("empty summary")
		}
		s.logger.Warn("summarizer failed, using extractive summary", "error", err)
	}
	return Extractive(firstChunk, s.cfg.ExtractiveChars), true
}

// Extractive returns at most maxChars runes of text's lead, cut back to a word boundary.
func Extractive(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	cut, n := text, 0
	for i := range text {
		if n == maxChars {
			cut = text[:i]
			next, _ := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				if j := strings.LastIndexFunc(cut, unicode.IsSpace); j > 0 {
					cut = cut[:j]
				}
			}
			break
		}
		n++
	}
	return strings.TrimSpace(cut)
}

func done(stage Stage, format string, args ...any) StageResult {
	return StageResult{Stage: stage, Status: StatusDone, Detail: fmt.Sprintf(format, args...)}
}

func skipped(stage Stage, format string, args ...any) StageResult {
	return StageResult{Stage: stage, Status: StatusSkipped, Detail: fmt.Sprintf(format, args...)}
}

func degraded(stage Stage, format string, args ...any) StageResult {
	return StageResult{Stage: stage, Status: StatusDegraded, Detail: fmt.Sprintf(format, args...)}
}

// BuildNode builds the pyramid of a stored node's current version, keyed by
// its lineage root so rebuilds replace earlier pyramids.
func (s *PyramidService) BuildNode(ctx context.Context, nodeID string) (*BuildResult, error) {
	n, err := s.store.Head(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: unknown node %s", store.ErrInvalidInput, nodeID)
	}
	return s.Build(ctx, n.Version.RootID, n.Content.Text)
}

// BuildAllOptions configures BuildAll.
type BuildAllOptions struct {
	Concurrency int
	// OnDone is called after each node, from worker goroutines.
	OnDone func(nodeID string, result *BuildResult, err error)
}

// BuildAllResult summarizes a multi-thread build.
type BuildAllResult struct {
	Built    int
	Degraded int
	Failed   int
	Errors   []string
}

// BuildAll builds pyramids for independent nodes on a worker pool. A failed
// build is counted and does not stop the others.
func (s *PyramidService) BuildAll(ctx context.Context, nodeIDs []string, opts BuildAllOptions) *BuildAllResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		built, degradedCount, failed atomic.Int32
		errorsMu                     sync.Mutex
		errs                         []string
	)

	work := make(chan string, len(nodeIDs))
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for id := range work {
				if ctx.Err() != nil {
					return
				}
				res, err := s.BuildNode(ctx, id)
				if err != nil {
					failed.Add(1)
					errorsMu.Lock()
					errs = append(errs, fmt.Sprintf("%s: %v", id, err))
					errorsMu.Unlock()
					s.logger.Warn("pyramid build failed", "worker", workerID, "node", id, "error", err)
				} else {
					built.Add(1)
					if res.Degraded() {
						degradedCount.Add(1)
					}
				}
				if opts.OnDone != nil {
					opts.OnDone(id, res, err)
				}
			}
		}(i)
	}

	for _, id := range nodeIDs {
		work <- id
	}
	close(work)
	wg.Wait()

	return &BuildAllResult{
		Built:    int(built.Load()),
		Degraded: int(degradedCount.Load()),
		Failed:   int(failed.Load()),
		Errors:   errs,
	}
}

// PyramidSearchOptions configures SearchPyramid.
type PyramidSearchOptions struct {
	Limit    int
	ThreadID string // empty searches every thread
}

// SearchPyramid embeds query once and searches every tier, each capped at a
// multiple of the limit so no tier crowds out the others before merging.
func (s *PyramidService) SearchPyramid(ctx context.Context, query string, opts PyramidSearchOptions) ([]models.PyramidHit, error) {
	if !s.store.Capabilities().Vector {
		return nil, store.ErrVectorUnavailable
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search pyramid: %w", err)
	}

	perTier := limit * max(s.cfg.TierMultiplier, 1)
	var hits []models.PyramidHit
	for _, tier := range []models.PyramidTier{models.TierChunk, models.TierSummary, models.TierApex} {
		tierHits, err := s.store.SearchPyramidTier(ctx, tier, vec, perTier, opts.ThreadID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, tierHits...)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
