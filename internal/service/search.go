// Package service provides retrieval, pyramid, ingest and embedding
// maintenance on top of the content store.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

// Search priorities. Lexical hits without a title match score below
// lexicalPriority by rank.
const (
	titlePriority        = 1000.0
	lexicalTitlePriority = 500.0
	lexicalPriority      = 100.0

	// candidateLimit bounds each search phase.
	candidateLimit = 200
)

// SearchService ranks nodes for free-text queries.
type SearchService struct {
	store    *store.Store
	embedder *embedding.Client
	logger   *slog.Logger
}

// NewSearchService creates a search service. embedder may be nil when only
// lexical search is used; logger defaults to slog.Default().
func NewSearchService(st *store.Store, embedder *embedding.Client, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{store: st, embedder: embedder, logger: logger}
}

// SearchOptions configures a search operation.
type SearchOptions struct {
	Query string
	// Filters restricts results structurally. Its Text, Limit and Offset are ignored.
	Filters store.NodeQuery
	Limit   int
	Offset  int
}

// Search runs two-phase hybrid search. Title substring matches rank first,
// then lexical hits by rank; a lexical hit whose title contains the term is
// lifted to a fixed tier between the two. Scores are the priorities.
func (s *SearchService) Search(ctx context.Context, opts SearchOptions) ([]models.ScoredNode, error) {
	term := strings.TrimSpace(opts.Query)
	if term == "" {
		return []models.ScoredNode{}, nil
	}
	filters := opts.Filters
	filters.Limit, filters.Offset = 0, 0

	titleHits, err := s.store.FindNodes(ctx, titleMatch(term, filters), false, candidateLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("search titles: %w", err)
	}

	lexical, err := s.store.LexicalSearch(ctx, term, candidateLimit)
	if err != nil {
		s.logger.Warn("lexical search failed, falling back to substring match", "query", term, "error", err)
		return s.substringSearch(ctx, term, filters, opts.Limit, opts.Offset)
	}

	priorities := make(map[string]float64, len(titleHits)+len(lexical))
	nodes := make(map[string]models.ContentNode, len(titleHits)+len(lexical))
	bump := func(n models.ContentNode, p float64) {
		if cur, ok := priorities[n.ID]; !ok || p > cur {
			priorities[n.ID] = p
		}
		nodes[n.ID] = n
	}

	for _, n := range titleHits {
		bump(n, titlePriority)
	}
	total := len(lexical)
	for i, hit := range lexical {
		p := lexicalPriority * float64(total-i) / float64(total)
		if titleContains(&hit.Node, term) {
			p = lexicalTitlePriority
		}
		bump(hit.Node, p)
	}

	merged := make([]models.ContentNode, 0, len(nodes))
	for _, n := range nodes {
		merged = append(merged, n)
	}
	merged = s.store.Filter(filters, merged)

	return rankAndPage(merged, priorities, opts.Limit, opts.Offset), nil
}

// substringSearch is the degraded path: containment in title or text, title
// hits first, otherwise newest first.
func (s *SearchService) substringSearch(ctx context.Context, term string, filters store.NodeQuery, limit, offset int) ([]models.ScoredNode, error) {
	preds := append([]store.Predicate{store.ContainsText(store.FieldSearchable, term)}, filters.Predicates()...)
	matches, err := s.store.FindNodes(ctx, preds, filters.AllVersions, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	priorities := make(map[string]float64, len(matches))
	for i := range matches {
		if titleContains(&matches[i], term) {
			priorities[matches[i].ID] = titlePriority
		} else {
			priorities[matches[i].ID] = 1
		}
	}
	return rankAndPage(matches, priorities, limit, offset), nil
}

func titleMatch(term string, filters store.NodeQuery) []store.Predicate {
	return append([]store.Predicate{store.ContainsText(store.FieldTitle, term)}, filters.Predicates()...)
}

func titleContains(n *models.ContentNode, term string) bool {
	return n.Metadata.Title != "" && strings.Contains(strings.ToLower(n.Metadata.Title), strings.ToLower(term))
}

// rankAndPage sorts by priority, then recency, and paginates.
func rankAndPage(nodes []models.ContentNode, priorities map[string]float64, limit, offset int) []models.ScoredNode {
	store.SortNewestFirst(nodes)
	sort.SliceStable(nodes, func(i, j int) bool {
		return priorities[nodes[i].ID] > priorities[nodes[j].ID]
	})
	nodes = store.Page(nodes, offset, limit)

	out := make([]models.ScoredNode, len(nodes))
	for i, n := range nodes {
		out[i] = models.ScoredNode{Node: n, Score: priorities[n.ID]}
	}
	return out
}

// Query answers a structured node query. A free-text term routes it to
// Search with the remaining fields as filters.
func (s *SearchService) Query(ctx context.Context, q store.NodeQuery) ([]models.ContentNode, error) {
	if strings.TrimSpace(q.Text) == "" {
		return s.store.QueryNodes(ctx, q)
	}
	hits, err := s.Search(ctx, SearchOptions{Query: q.Text, Filters: q, Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		return nil, err
	}
	nodes := make([]models.ContentNode, len(hits))
	for i, h := range hits {
		nodes[i] = h.Node
	}
	return nodes, nil
}

// SimilarNodes returns the nodes whose embeddings are nearest to text's.
// It fails with store.ErrVectorUnavailable before embedding when the engine
// has no vector search.
func (s *SearchService) SimilarNodes(ctx context.Context, text string, limit int) ([]models.ScoredNode, error) {
	if !s.store.Capabilities().Vector {
		return nil, store.ErrVectorUnavailable
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("similar nodes: no embedding provider configured")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("similar nodes: %w", err)
	}
	return s.store.SimilarNodes(ctx, vec, limit)
}
