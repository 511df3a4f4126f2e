package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

type linkRow struct {
	UID          string         `json:"uid"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	LinkType     string         `json:"link_type"`
	Strength     *float64       `json:"strength,omitempty"`
	SourceAnchor *models.Anchor `json:"source_anchor,omitempty"`
	TargetAnchor *models.Anchor `json:"target_anchor,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedBy    string         `json:"created_by"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (r linkRow) toLink() models.ContentLink {
	return models.ContentLink{
		ID:           r.UID,
		SourceID:     r.SourceID,
		TargetID:     r.TargetID,
		Type:         models.LinkType(r.LinkType),
		Strength:     r.Strength,
		SourceAnchor: r.SourceAnchor,
		TargetAnchor: r.TargetAnchor,
		CreatedAt:    r.CreatedAt.UTC(),
		CreatedBy:    r.CreatedBy,
		Metadata:     r.Metadata,
	}
}

func toLinks(rows []linkRow) []models.ContentLink {
	links := make([]models.ContentLink, len(rows))
	for i, r := range rows {
		links[i] = r.toLink()
	}
	return links
}

// UpsertLink keys the record on [source, target, type]. A replaced link keeps
// its original uid and creation time; l is updated to match.
func (c *Client) UpsertLink(ctx context.Context, l *models.ContentLink) error {
	vars := map[string]any{
		"source":     l.SourceID,
		"target":     l.TargetID,
		"type":       string(l.Type),
		"uid":        l.ID,
		"created_at": l.CreatedAt.UTC(),
		"created_by": l.CreatedBy,
	}
	sets := []string{
		"uid = uid ?? $uid",
		"source_id = $source",
		"target_id = $target",
		"link_type = $type",
		"created_at = created_at ?? $created_at",
		"created_by = $created_by",
	}
	optional := func(field string, value any, present bool) {
		if present {
			sets = append(sets, field+" = $"+field)
			vars[field] = value
		} else {
			sets = append(sets, field+" = NONE")
		}
	}
	optional("strength", derefFloat(l.Strength), l.Strength != nil)
	optional("source_anchor", anchorOrNil(l.SourceAnchor), l.SourceAnchor != nil)
	optional("target_anchor", anchorOrNil(l.TargetAnchor), l.TargetAnchor != nil)
	optional("metadata", l.Metadata, len(l.Metadata) > 0)

	sql := fmt.Sprintf(`
		UPSERT type::record("link", [$source, $target, $type]) SET
			%s
		RETURN AFTER
	`, strings.Join(sets, ",\n\t\t\t"))

	results, err := surrealdb.Query[[]linkRow](ctx, c.db, sql, vars)
	if err != nil {
		return fmt.Errorf("upsert link: %w", wrapQueryError(err))
	}
	if row := first(results); row != nil {
		l.ID = row.UID
		l.CreatedAt = row.CreatedAt.UTC()
	}
	return nil
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func anchorOrNil(a *models.Anchor) any {
	if a == nil {
		return nil
	}
	return anchorContent(*a)
}

// FindLinks returns links touching nodeID, oldest first.
func (c *Client) FindLinks(ctx context.Context, nodeID string, q models.LinkQuery) ([]models.ContentLink, error) {
	vars := map[string]any{"node": nodeID}
	var where []string
	switch q.Direction {
	case models.DirectionOutgoing:
		where = append(where, "source_id = $node")
	case models.DirectionIncoming:
		where = append(where, "target_id = $node")
	default:
		where = append(where, "(source_id = $node OR target_id = $node)")
	}
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		where = append(where, "link_type IN $types")
		vars["types"] = types
	}
	if q.MinStrength > 0 {
		where = append(where, "(strength ?? 1.0) >= $min_strength")
		vars["min_strength"] = q.MinStrength
	}

	sql := "SELECT * FROM link WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at ASC, uid ASC"
	results, err := surrealdb.Query[[]linkRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("find links: %w", wrapQueryError(err))
	}
	return toLinks(resultRows(results, 0)), nil
}

// LinksByType returns every link of one type.
func (c *Client) LinksByType(ctx context.Context, linkType models.LinkType) ([]models.ContentLink, error) {
	sql := `SELECT * FROM link WHERE link_type = $type ORDER BY created_at ASC, uid ASC`
	results, err := surrealdb.Query[[]linkRow](ctx, c.db, sql, map[string]any{"type": string(linkType)})
	if err != nil {
		return nil, fmt.Errorf("links by type: %w", wrapQueryError(err))
	}
	return toLinks(resultRows(results, 0)), nil
}
