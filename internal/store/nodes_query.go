package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/models"
)

// compile prepares predicates for evaluation. Invalid regex predicates are
// logged and dropped.
func (s *Store) compile(preds []Predicate) []Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		c, err := p.Compile()
		if err != nil {
			s.logger.Warn("skipping invalid filter", "filter", p.String(), "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

// split separates predicates the engine evaluates from those matched in process.
func (s *Store) split(preds []Predicate) (pushed, residual []Predicate) {
	for _, p := range preds {
		if p.Op != OpRegex && s.backend.CanPushDown(p) {
			pushed = append(pushed, p)
		} else {
			residual = append(residual, p)
		}
	}
	return pushed, residual
}

// QueryNodes returns nodes matching the structured filters of q, newest first.
// q.Text is ignored.
func (s *Store) QueryNodes(ctx context.Context, q NodeQuery) ([]models.ContentNode, error) {
	return s.FindNodes(ctx, q.Predicates(), q.AllVersions, q.Limit, q.Offset)
}

// FindNodes evaluates predicates, pushing down what the engine supports.
// With residual predicates, pagination happens after in-process filtering.
func (s *Store) FindNodes(ctx context.Context, preds []Predicate, allVersions bool, limit, offset int) ([]models.ContentNode, error) {
	defer s.metrics.Time(metrics.OpStoreQuery)()

	pushed, residual := s.split(s.compile(preds))
	fq := FindQuery{Predicates: pushed, AllVersions: allVersions}
	if len(residual) == 0 {
		fq.Limit, fq.Offset = limit, offset
	}

	nodes, err := s.backend.FindNodes(ctx, fq)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	if len(residual) == 0 {
		return nodes, nil
	}

	s.logger.Debug("filtering in process", "pushed", len(pushed), "residual", len(residual), "candidates", len(nodes))
	filtered := nodes[:0]
	for i := range nodes {
		if MatchAll(residual, &nodes[i]) {
			filtered = append(filtered, nodes[i])
		}
	}
	return Page(filtered, offset, limit), nil
}

// Filter applies the structural predicates of q to nodes already in memory.
// Order is preserved and pagination is not applied.
func (s *Store) Filter(q NodeQuery, nodes []models.ContentNode) []models.ContentNode {
	preds := s.compile(q.Predicates())
	out := make([]models.ContentNode, 0, len(nodes))
	for i := range nodes {
		if MatchAll(preds, &nodes[i]) {
			out = append(out, nodes[i])
		}
	}
	return out
}

// CountNodes counts lineage heads matching preds.
func (s *Store) CountNodes(ctx context.Context, preds []Predicate) (int, error) {
	pushed, residual := s.split(s.compile(preds))
	if len(residual) == 0 {
		n, err := s.backend.CountNodes(ctx, FindQuery{Predicates: pushed})
		if err != nil {
			return 0, fmt.Errorf("count nodes: %w", err)
		}
		return n, nil
	}
	nodes, err := s.FindNodes(ctx, preds, false, 0, 0)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// LexicalSearch passes query to the engine's full-text index. Errors,
// including malformed query syntax, are returned to the caller.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]models.ScoredNode, error) {
	defer s.metrics.Time(metrics.OpLexicalSearch)()

	hits, err := s.backend.LexicalSearch(ctx, query, limit)
	if err != nil {
		s.metrics.RecordError(metrics.OpLexicalSearch)
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return hits, nil
}

// SortNewestFirst orders nodes by authored time, then insert time, descending.
func SortNewestFirst(nodes []models.ContentNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		ti, tj := nodes[i].SortTime(), nodes[j].SortTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return nodes[i].InsertedAt.After(nodes[j].InsertedAt)
	})
}
