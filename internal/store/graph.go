package store

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

// CreateLink stores a link, replacing any existing link with the same
// source, target and type.
func (s *Store) CreateLink(ctx context.Context, in models.LinkInput) (*models.ContentLink, error) {
	if in.SourceID == "" || in.TargetID == "" || in.Type == "" {
		return nil, fmt.Errorf("%w: link needs source, target and type", ErrInvalidInput)
	}
	link := &models.ContentLink{
		ID:           s.newID(),
		SourceID:     in.SourceID,
		TargetID:     in.TargetID,
		Type:         in.Type,
		Strength:     in.Strength,
		SourceAnchor: in.SourceAnchor,
		TargetAnchor: in.TargetAnchor,
		CreatedAt:    s.now(),
		CreatedBy:    in.CreatedBy,
		Metadata:     in.Metadata,
	}
	if err := s.backend.UpsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	return link, nil
}

// GetLinks returns links touching nodeID. Direction defaults to both.
func (s *Store) GetLinks(ctx context.Context, nodeID string, q models.LinkQuery) ([]models.ContentLink, error) {
	if q.Direction == "" {
		q.Direction = models.DirectionBoth
	}
	links, err := s.backend.FindLinks(ctx, nodeID, q)
	if err != nil {
		return nil, fmt.Errorf("get links: %w", err)
	}
	return links, nil
}

// arena is an index-addressed derived-from graph.
type arena struct {
	ids   []string
	index map[string]int
	up    [][]int // node -> the nodes it derives from
	down  [][]int // node -> the nodes derived from it
}

func newArena(links []models.ContentLink) *arena {
	a := &arena{index: make(map[string]int)}
	for _, l := range links {
		src, dst := a.add(l.SourceID), a.add(l.TargetID)
		a.up[src] = append(a.up[src], dst)
		a.down[dst] = append(a.down[dst], src)
	}
	return a
}

func (a *arena) add(id string) int {
	if i, ok := a.index[id]; ok {
		return i
	}
	i := len(a.ids)
	a.ids = append(a.ids, id)
	a.index[id] = i
	a.up = append(a.up, nil)
	a.down = append(a.down, nil)
	return i
}

// walk returns the ids reachable from start over adj in depth-first order.
// Each node is visited once, so cycles terminate; start is never reported.
func (a *arena) walk(start string, adj [][]int) []string {
	s, ok := a.index[start]
	if !ok {
		return nil
	}
	visited := make([]bool, len(a.ids))
	visited[s] = true

	var out []string
	stack := []int{s}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		// Push in reverse so neighbours are visited in link order.
		for i := len(adj[cur]) - 1; i >= 0; i-- {
			next := adj[cur][i]
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, a.ids[next])
			stack = append(stack, next)
		}
	}
	return out
}

// GetLineage returns the node, everything it transitively derives from,
// everything transitively derived from it, and its version rows.
// Unknown ids yield nil, nil.
func (s *Store) GetLineage(ctx context.Context, nodeID string) (*models.Lineage, error) {
	node, err := s.backend.GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("get lineage: %w", err)
	}
	if node == nil {
		return nil, nil
	}

	links, err := s.backend.LinksByType(ctx, models.LinkDerivedFrom)
	if err != nil {
		return nil, fmt.Errorf("get lineage: %w", err)
	}
	a := newArena(links)

	ancestors, err := s.loadNodes(ctx, a.walk(nodeID, a.up))
	if err != nil {
		return nil, fmt.Errorf("get lineage: %w", err)
	}
	descendants, err := s.loadNodes(ctx, a.walk(nodeID, a.down))
	if err != nil {
		return nil, fmt.Errorf("get lineage: %w", err)
	}
	versions, err := s.backend.ListVersions(ctx, node.Version.RootID)
	if err != nil {
		return nil, fmt.Errorf("get lineage: %w", err)
	}

	return &models.Lineage{
		Node:        node,
		Ancestors:   ancestors,
		Descendants: descendants,
		Versions:    versions,
	}, nil
}

// loadNodes fetches nodes by id, skipping ids with no stored row.
func (s *Store) loadNodes(ctx context.Context, ids []string) ([]models.ContentNode, error) {
	nodes := make([]models.ContentNode, 0, len(ids))
	for _, id := range ids {
		n, err := s.backend.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			s.logger.Debug("dangling derived-from link", "node", id)
			continue
		}
		nodes = append(nodes, *n)
	}
	return nodes, nil
}
