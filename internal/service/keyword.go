package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

const (
	keywordCandidates  = 200
	keywordLeadChars   = 200
	keywordTitleBoost  = 2.0
	keywordLeadBoost   = 1.3
	defaultResultLimit = 20
)

// KeywordOptions configures FindByKeyword.
type KeywordOptions struct {
	Limit int
	Owner string
}

// FindByKeyword ranks lineage heads by how central keyword is to them: a
// TF-IDF score boosted for title and lead mentions and for keyword density.
func (s *SearchService) FindByKeyword(ctx context.Context, keyword string, opts KeywordOptions) ([]models.ScoredNode, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []models.ScoredNode{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultResultLimit
	}

	var scope []store.Predicate
	if opts.Owner != "" {
		scope = append(scope, store.OwnedBy(opts.Owner))
	}
	containing := append([]store.Predicate{store.ContainsText(store.FieldSearchable, keyword)}, scope...)

	total, err := s.store.CountNodes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("find by keyword: %w", err)
	}
	docs, err := s.store.CountNodes(ctx, containing)
	if err != nil {
		return nil, fmt.Errorf("find by keyword: %w", err)
	}
	if docs == 0 || total == 0 {
		return []models.ScoredNode{}, nil
	}
	idf := math.Log(float64(total) / float64(docs))

	candidates, err := s.store.FindNodes(ctx, containing, false, keywordCandidates, 0)
	if err != nil {
		return nil, fmt.Errorf("find by keyword: %w", err)
	}

	scored := make([]models.ScoredNode, 0, len(candidates))
	for _, n := range candidates {
		scored = append(scored, models.ScoredNode{Node: n, Score: keywordScore(&n, keyword, idf)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// keywordScore computes the centrality of keyword in n's searchable text.
func keywordScore(n *models.ContentNode, keyword string, idf float64) float64 {
	text := strings.ToLower(n.SearchableText())
	kw := strings.ToLower(keyword)

	occurrences := strings.Count(text, kw)
	if occurrences == 0 {
		return 0
	}
	words := models.WordCount(text)
	if words == 0 {
		words = 1
	}

	tf := float64(occurrences) / float64(words)
	score := tf * idf
	if strings.Contains(strings.ToLower(n.Metadata.Title), kw) {
		score *= keywordTitleBoost
	}
	if strings.Contains(leadRunes(text, keywordLeadChars), kw) {
		score *= keywordLeadBoost
	}
	density := float64(occurrences*utf8.RuneCountInString(kw)) / float64(words)
	return score * (1 + density)
}

// leadRunes returns the first n runes of text.
func leadRunes(text string, n int) string {
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}
