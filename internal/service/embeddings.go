package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

// EmbeddingService keeps node embeddings in step with node content.
type EmbeddingService struct {
	store    *store.Store
	embedder *embedding.Client
	logger   *slog.Logger
}

// NewEmbeddingService creates an embedding maintenance service.
func NewEmbeddingService(st *store.Store, embedder *embedding.Client, logger *slog.Logger) *EmbeddingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingService{store: st, embedder: embedder, logger: logger}
}

// BackfillOptions configures Backfill.
type BackfillOptions struct {
	Limit      int // 0 embeds every node that needs it
	GroupSize  int
	OnProgress func(embedding.Progress)
}

// BackfillResult counts what a backfill did.
type BackfillResult struct {
	Candidates int
	Embedded   int
	Failed     int
	Errors     []string
}

// Backfill embeds lineage heads whose embedding is missing or was computed
// from older content. Items the provider fails on keep their old state and
// are counted; zero vectors are never stored.
func (s *EmbeddingService) Backfill(ctx context.Context, opts BackfillOptions) (*BackfillResult, error) {
	nodes, err := s.store.NodesNeedingEmbedding(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	result := &BackfillResult{Candidates: len(nodes)}
	if len(nodes) == 0 {
		return result, nil
	}
	s.logger.Info("backfilling embeddings", "nodes", len(nodes), "model", s.embedder.Model())

	texts := make([]string, len(nodes))
	for i := range nodes {
		texts[i] = nodes[i].SearchableText()
	}
	batch, err := s.embedder.EmbedBatch(ctx, texts, embedding.BatchOptions{GroupSize: opts.GroupSize, OnProgress: opts.OnProgress})
	if err != nil {
		return result, fmt.Errorf("backfill: %w", err)
	}

	for i, vec := range batch.Vectors {
		if embedding.IsZero(vec) {
			result.Failed++
			continue
		}
		if err := s.store.PutEmbedding(ctx, nodes[i].ID, s.embedder.Model(), vec); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", nodes[i].ID, err))
			continue
		}
		result.Embedded++
	}

	s.logger.Info("backfill done", "embedded", result.Embedded, "failed", result.Failed)
	return result, nil
}

// JunkRule flags a node whose embedding only adds noise to similarity search.
type JunkRule struct {
	Name  string
	Match func(n *models.ContentNode) bool
}

var toolCallPrefix = regexp.MustCompile(`^(?:m?click\(|scroll\(|search\(")`)

// JunkRules are applied in order; a node is attributed to the first rule it matches.
var JunkRules = []JunkRule{
	{Name: "tool_role", Match: func(n *models.ContentNode) bool {
		role, _ := n.Metadata.Extra["role"].(string)
		return strings.EqualFold(role, "tool")
	}},
	{Name: "too_short", Match: func(n *models.ContentNode) bool {
		return utf8.RuneCountInString(strings.TrimSpace(n.Content.Text)) < 30
	}},
	{Name: "image_placeholder", Match: func(n *models.ContentNode) bool {
		return strings.Contains(n.Content.Text, "<<ImageDisplay")
	}},
	{Name: "traceback", Match: func(n *models.ContentNode) bool {
		return strings.Contains(n.Content.Text, "Traceback")
	}},
	{Name: "tool_command", Match: func(n *models.ContentNode) bool {
		return toolCallPrefix.MatchString(strings.TrimSpace(n.Content.Text))
	}},
	{Name: "json_blob", Match: func(n *models.ContentNode) bool {
		t := strings.TrimSpace(n.Content.Text)
		return strings.HasPrefix(t, `{"query":`) || strings.HasPrefix(t, `{"type":`)
	}},
	{Name: "error_message", Match: func(n *models.ContentNode) bool {
		t := strings.TrimSpace(n.Content.Text)
		return strings.HasPrefix(t, "Error ") && utf8.RuneCountInString(t) < 200
	}},
	{Name: "fetch_failure", Match: func(n *models.ContentNode) bool {
		return strings.Contains(n.Content.Text, "Failed to fetch") || strings.Contains(n.Content.Text, "Timeout fetching")
	}},
}

// PruneOptions configures Prune.
type PruneOptions struct {
	// Execute deletes the flagged embeddings. Without it Prune only reports.
	Execute bool
}

// PruneResult reports flagged embeddings per rule.
type PruneResult struct {
	Scanned int
	Flagged int
	Deleted int
	ByRule  map[string]int
	NodeIDs []string
}

// Prune finds embedded nodes matching a junk rule and, with Execute, deletes
// their embeddings. The nodes themselves are kept.
func (s *EmbeddingService) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	nodes, err := s.store.EmbeddedNodes(ctx)
	if err != nil {
		return nil, err
	}

	result := &PruneResult{Scanned: len(nodes), ByRule: make(map[string]int)}
	for i := range nodes {
		if rule, ok := junkRule(&nodes[i]); ok {
			result.ByRule[rule]++
			result.NodeIDs = append(result.NodeIDs, nodes[i].ID)
		}
	}
	result.Flagged = len(result.NodeIDs)

	if !opts.Execute || result.Flagged == 0 {
		s.logger.Info("prune preview", "scanned", result.Scanned, "flagged", result.Flagged)
		return result, nil
	}

	deleted, err := s.store.DeleteEmbeddings(ctx, result.NodeIDs)
	if err != nil {
		return result, fmt.Errorf("prune: %w", err)
	}
	result.Deleted = deleted
	s.logger.Info("pruned embeddings", "scanned", result.Scanned, "deleted", deleted)
	return result, nil
}

func junkRule(n *models.ContentNode) (string, bool) {
	for _, r := range JunkRules {
		if r.Match(n) {
			return r.Name, true
		}
	}
	return "", false
}
